package router

import (
	"log"
	"time"

	"judgeconnect/config"
	"judgeconnect/internal/domain"
	"judgeconnect/internal/handler"
	"judgeconnect/internal/middleware"
	"judgeconnect/internal/realtime"
	"judgeconnect/internal/repository"
	"judgeconnect/internal/service"
	"judgeconnect/pkg/cards"
	"judgeconnect/pkg/cloudinary"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(cfg *config.Config, db *gorm.DB, broker *realtime.Broker, cloud cloudinary.Client) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	convRepo := repository.NewConversationRepository(db, broker)
	msgRepo := repository.NewMessageRepository(db, broker)
	notifRepo := repository.NewNotificationRepository(db, broker)

	// Services
	authSvc := service.NewAuthService(cfg, userRepo)
	fcmSvc := service.NewFCMService(cfg.Firebase.ServiceAccountPath)
	if fcmSvc != nil {
		log.Printf("[FCM] Push notifications enabled")
	} else if cfg.Firebase.ServiceAccountPath != "" {
		log.Printf("[FCM] Push notifications disabled: failed to init (check service account file)")
	} else {
		log.Printf("[FCM] Push notifications disabled: set FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}
	pusher := service.NewFCMPusher(fcmSvc, userRepo)
	notifSvc := service.NewNotificationService(notifRepo)
	rewardSvc := service.NewRewardService(notifRepo, userRepo)
	cardsClient := cards.NewClient(cfg.Cards.BaseURL, cfg.Cards.Timeout)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userRepo, questionRepo, notifSvc)
	questionHandler := handler.NewQuestionHandler(questionRepo, convRepo, msgRepo, userRepo, notifSvc)
	convHandler := handler.NewConversationHandler(convRepo, msgRepo, questionRepo, userRepo, notifSvc, rewardSvc)
	notifHandler := handler.NewNotificationHandler(notifRepo, cfg.Chat.NotifWindow)
	cardHandler := handler.NewCardHandler(cardsClient)
	uploadHandler := handler.NewUploadHandler(cloud)

	authMw := middleware.AuthRequired(&cfg.JWT)
	judgeMw := middleware.RequireRole(domain.RoleJudge, domain.RoleAdmin)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
		}

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.GET("", userHandler.Me)
			me.POST("/fcm-token", userHandler.RegisterFCMToken)
			me.PATCH("/availability", judgeMw, userHandler.SetAvailability)
		}

		questions := api.Group("/questions")
		questions.Use(authMw)
		{
			questions.POST("", questionHandler.Create)
			questions.GET("", questionHandler.ListOpen)
			questions.GET("/mine", questionHandler.ListMine)
			questions.GET("/:id", questionHandler.Get)
			questions.POST("/:id/assign", judgeMw, questionHandler.Assign)
		}

		conversations := api.Group("/conversations")
		conversations.Use(authMw)
		{
			conversations.GET("", convHandler.ListMine)
			conversations.GET("/:id", convHandler.Get)
			conversations.POST("/:id/complete", convHandler.Complete)
			conversations.POST("/:id/dispute", convHandler.Dispute)
			conversations.POST("/:id/rate", convHandler.Rate)
		}

		notifications := api.Group("/notifications")
		notifications.Use(authMw)
		{
			notifications.GET("", notifHandler.List)
			notifications.POST("/:id/read", notifHandler.MarkRead)
			notifications.POST("/read-all", notifHandler.MarkAllRead)
		}

		rewardsGroup := api.Group("/rewards")
		rewardsGroup.Use(authMw)
		{
			rewardsGroup.GET("", notifHandler.ListRewards)
			rewardsGroup.POST("/:id/ack", notifHandler.AckReward)
		}

		api.GET("/cards/search", authMw, cardHandler.Search)
		api.POST("/uploads/image", authMw, uploadHandler.UploadImage)

		// WebSocket endpoints authenticate via query token.
		api.GET("/ws/chat", handler.UpgradeChatWS(cfg, broker, convRepo, msgRepo, userRepo, notifSvc, cardsClient))
		api.GET("/ws/notifications", handler.UpgradeNotifyWS(cfg, broker, notifRepo, pusher))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
