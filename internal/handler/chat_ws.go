package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"judgeconnect/config"
	"judgeconnect/internal/auth"
	"judgeconnect/internal/chatsync"
	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"
	"judgeconnect/internal/presence"
	"judgeconnect/internal/realtime"
	"judgeconnect/internal/repository"
	"judgeconnect/internal/service"
	"judgeconnect/pkg/cards"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	chatWriteWait  = 10 * time.Second
	chatPongWait   = 60 * time.Second
	chatPingPeriod = (chatPongWait * 9) / 10
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type chatFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	CardQuery string `json:"card_query,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	ClientKey string `json:"client_key,omitempty"`
}

// UpgradeChatWS upgrades to WebSocket for a conversation; query: token,
// conversation_id. The user must be a participant. One synchronizer and one
// presence tracker live for the duration of the connection and are torn down
// on every exit path.
func UpgradeChatWS(cfg *config.Config, broker *realtime.Broker, convRepo *repository.ConversationRepository, msgRepo *repository.MessageRepository, userRepo *repository.UserRepository, notifs *service.NotificationService, cardsClient *cards.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		convIDStr := c.Query("conversation_id")
		if token == "" || convIDStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token and conversation_id required"})
			return
		}
		claims, err := auth.ParseAccessToken(&cfg.JWT, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		convID64, err := strconv.ParseUint(convIDStr, 10, 64)
		if err != nil || convID64 == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation_id"})
			return
		}
		convID := uint(convID64)
		conv, err := convRepo.GetByID(c.Request.Context(), convID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if !conv.HasParticipant(claims.UserID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not part of this conversation"})
			return
		}

		conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out := make(chan []byte, 256)
		send := func(v interface{}) {
			data, err := json.Marshal(v)
			if err != nil {
				return
			}
			select {
			case out <- data:
			default:
			}
		}

		syncer := chatsync.NewSynchronizer(claims.UserID, broker, msgRepo, convRepo, cfg.Chat.PendingTimeout)
		syncer.OnChange = func() {
			send(gin.H{
				"type":         "messages",
				"messages":     syncer.Messages(),
				"conversation": syncer.Conversation(),
			})
		}
		syncer.OnIncoming = func(m models.Message) {
			send(gin.H{"type": "incoming", "message": m})
		}

		selfKey := strconv.FormatUint(uint64(claims.UserID), 10)
		tracker := presence.NewTracker(broker, chatsync.Topic(convID), selfKey, cfg.Chat.TypingTTL)
		tracker.OnChange = func() {
			send(gin.H{"type": "presence", "online": tracker.Online(), "typing": tracker.Typing()})
		}

		// Judge messages raise a NEW_ANSWER notification when the player is
		// not on the topic to see them land.
		var afterSend func(models.Message)
		if claims.UserID == conv.JudgeID {
			playerKey := strconv.FormatUint(uint64(conv.PlayerID), 10)
			afterSend = func(m models.Message) {
				for _, online := range tracker.Online() {
					if online == playerKey {
						return
					}
				}
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					judgeName := "Your judge"
					if judge, err := userRepo.GetByID(ctx, claims.UserID); err == nil {
						judgeName = judge.Username
					}
					if err := notifs.NotifyNewAnswer(ctx, conv.PlayerID, judgeName, conv.ID); err != nil {
						log.Printf("[chat] new answer notify: %v", err)
					}
				}()
			}
		}

		if err := syncer.Open(c.Request.Context(), convID); err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"open failed"}`))
			return
		}
		tracker.Start()
		defer func() {
			tracker.Stop()
			syncer.Close()
		}()

		conn.SetReadDeadline(time.Now().Add(chatPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(chatPongWait))
			return nil
		})
		go chatWritePump(conn, out)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var frame chatFrame
			if json.Unmarshal(raw, &frame) != nil {
				continue
			}
			switch frame.Type {
			case "message":
				handleSendFrame(c.Request.Context(), syncer, cardsClient, frame, send, afterSend)
			case "resend":
				if _, err := syncer.Resend(c.Request.Context(), frame.ClientKey); err != nil {
					send(gin.H{"type": "send_failed", "client_key": frame.ClientKey, "error": err.Error()})
				}
			case "typing":
				tracker.NotifyTyping()
			case "stop_typing":
				tracker.StopTyping()
			}
		}
	}
}

func handleSendFrame(ctx context.Context, syncer *chatsync.Synchronizer, cardsClient *cards.Client, frame chatFrame, send func(interface{}), afterSend func(models.Message)) {
	cardData := ""
	if frame.CardQuery != "" && cardsClient != nil {
		// Best-effort: a failed lookup degrades to a plain text message.
		lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		card, err := cardsClient.Lookup(lookupCtx, frame.CardQuery)
		cancel()
		if err != nil {
			log.Printf("[chat] card lookup %q: %v", frame.CardQuery, err)
		} else if card != nil {
			if data, err := json.Marshal(card); err == nil {
				cardData = string(data)
			}
		}
	}
	msgType := ""
	content := frame.Content
	if frame.ImageURL != "" {
		msgType = domain.MessageImage
		content = frame.ImageURL
	}
	m, err := syncer.Send(ctx, content, cardData, msgType)
	if err != nil {
		send(gin.H{"type": "send_failed", "client_key": m.ClientKey, "error": err.Error()})
		return
	}
	if afterSend != nil {
		afterSend(m)
	}
}

// chatWritePump copies outbound frames to the connection and keeps it alive
// with pings.
func chatWritePump(conn *websocket.Conn, out <-chan []byte) {
	ticker := time.NewTicker(chatPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
