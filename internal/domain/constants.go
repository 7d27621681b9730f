package domain

const (
	RolePlayer = "PLAYER"
	RoleJudge  = "JUDGE"
	RoleAdmin  = "ADMIN"
)

const (
	QuestionOpen     = "OPEN"
	QuestionAssigned = "ASSIGNED"
	QuestionAnswered = "ANSWERED"
	QuestionClosed   = "CLOSED"
)

const (
	ConversationActive   = "ACTIVE"
	ConversationEnded    = "ENDED"
	ConversationDisputed = "DISPUTED"
)

const (
	MessageText   = "TEXT"
	MessageImage  = "IMAGE"
	MessageSystem = "SYSTEM"
)

const (
	NotifJudgeAssigned = "JUDGE_ASSIGNED"
	NotifNewAnswer     = "NEW_ANSWER"
	NotifCompleted     = "COMPLETED"
	NotifRating        = "RATING"
	NotifReward        = "REWARD"
	NotifAvailability  = "AVAILABILITY"
)

const (
	RewardPoints      = "POINTS"
	RewardBadge       = "BADGE"
	RewardLevelUp     = "LEVEL_UP"
	RewardAchievement = "ACHIEVEMENT"
	RewardBonus       = "BONUS"
)

const (
	RarityCommon    = "COMMON"
	RarityRare      = "RARE"
	RarityEpic      = "EPIC"
	RarityLegendary = "LEGENDARY"
)

// Points awarded to a judge on a completed conversation.
const PointsPerCompletion = 10

// Judge level thresholds in points.
var LevelThresholds = []int{0, 100, 300, 700, 1500}
