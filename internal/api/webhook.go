package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/annel0/place3d/internal/session"
	"github.com/gin-gonic/gin"
)

// Типы входящих событий планировщика миров.
const (
	InboundWorldCreate = "world.create"
	InboundWorldEnd    = "world.end"
)

const maxWebhookBody = 64 << 10

// WebhookEvent — входящее событие планировщика.
type WebhookEvent struct {
	EventType string           `json:"event_type"`
	Timestamp int64            `json:"timestamp"`
	Data      WebhookWorldData `json:"data"`
	Source    string           `json:"source,omitempty"`
}

// WebhookWorldData — полезная нагрузка событий world.*.
type WebhookWorldData struct {
	WorldID         string `json:"world_id"`
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
}

// HandleWebhook принимает подписанные события жизненного цикла миров.
// Подпись считается по сырому телу: X-Webhook-Signature: sha256=<hex>.
func (rs *RestServer) HandleWebhook(c *gin.Context) {
	if !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		fail(c, http.StatusBadRequest, "Требуется Content-Type: application/json")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, http.StatusBadRequest, "Не удалось прочитать тело запроса")
		return
	}

	if !VerifySignature(rs.cfg.InboundWebhookSecret, body, c.GetHeader("X-Webhook-Signature")) {
		rs.logger.Warn("Webhook with bad signature from %s", c.ClientIP())
		fail(c, http.StatusUnauthorized, "Неверная подпись")
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.EventType == "" {
		fail(c, http.StatusBadRequest, "Неверный формат события")
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	rs.logger.Info("📧 Webhook %s for world %q from %s", event.EventType, event.Data.WorldID, c.ClientIP())

	if !ValidWorldID(event.Data.WorldID) {
		fail(c, http.StatusBadRequest, "Неверный идентификатор мира")
		return
	}

	var w session.World
	switch event.EventType {
	case InboundWorldCreate:
		duration := rs.cfg.WorldDuration
		if d := event.Data.DurationSeconds; d != nil {
			if *d < 0 {
				fail(c, http.StatusBadRequest, "duration_seconds не может быть отрицательным")
				return
			}
			duration = time.Duration(*d) * time.Second
		}
		w, err = rs.createWorld(c.Request.Context(), event.Data.WorldID, duration)
		if errors.Is(err, session.ErrWorldExists) {
			// повторная доставка того же события
			w, err = rs.sessions.Get(c.Request.Context(), event.Data.WorldID)
		}
	case InboundWorldEnd:
		w, err = rs.endWorld(c.Request.Context(), event.Data.WorldID)
	default:
		fail(c, http.StatusBadRequest, "Неизвестный тип события")
		return
	}
	if err != nil {
		rs.sessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook обработан",
		Data:    w,
	})
}

// Sign возвращает подпись тела в формате "sha256=<hex>".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сравнивает подпись за постоянное время.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}
