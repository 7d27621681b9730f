package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"judgeconnect/config"
	"judgeconnect/internal/auth"
	"judgeconnect/internal/models"
	"judgeconnect/internal/notify"
	"judgeconnect/internal/realtime"
	"judgeconnect/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var notifyUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type notifyFrame struct {
	Type string `json:"type"`
	ID   uint   `json:"id,omitempty"`
}

// UpgradeNotifyWS streams the user's notification window and reward queue over
// WebSocket. Inbound frames: mark_read, mark_all_read, ack_reward.
func UpgradeNotifyWS(cfg *config.Config, broker *realtime.Broker, notifRepo *repository.NotificationRepository, pusher notify.Pusher) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		claims, err := auth.ParseAccessToken(&cfg.JWT, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := notifyUpgrader.Upgrade(c.Writer, c.Request, nil)
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

		disp := notify.NewDispatcher(claims.UserID, cfg.Chat.NotifWindow, broker, notifRepo, pusher)
		disp.OnChange = func() {
			send(gin.H{
				"type":          "notifications",
				"unread":        disp.Unread(),
				"notifications": disp.Notifications(),
			})
		}
		disp.OnCue = func(n models.Notification) {
			send(gin.H{"type": "cue", "notification": n})
		}

		rewards := notify.NewRewardQueue(claims.UserID, broker, notifRepo)
		rewards.OnChange = func() {
			send(gin.H{
				"type":   "reward",
				"reward": rewards.Current(),
				"queued": rewards.QueuedCount(),
			})
		}

		if err := disp.Start(c.Request.Context()); err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"load failed"}`))
			return
		}
		if err := rewards.Start(c.Request.Context()); err != nil {
			disp.Close()
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"load failed"}`))
			return
		}
		defer func() {
			rewards.Close()
			disp.Close()
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
			var frame notifyFrame
			if json.Unmarshal(raw, &frame) != nil {
				continue
			}
			switch frame.Type {
			case "mark_read":
				if err := disp.MarkRead(c.Request.Context(), frame.ID); err != nil {
					send(gin.H{"type": "error", "error": err.Error()})
				}
			case "mark_all_read":
				if err := disp.MarkAllRead(c.Request.Context()); err != nil {
					send(gin.H{"type": "error", "error": err.Error()})
				}
			case "ack_reward":
				if err := rewards.Acknowledge(c.Request.Context()); err != nil {
					send(gin.H{"type": "error", "error": err.Error()})
				}
			}
		}
	}
}
