package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/place3d/internal/config"
	"github.com/annel0/place3d/internal/logging"
	"github.com/annel0/place3d/internal/session"
)

// Исходящие события жизненного цикла миров.
const (
	EventWorldCreated = "world.created"
	EventWorldEnded   = "world.ended"
)

// OutboundWebhook представляет исходящий webhook
type OutboundWebhook struct {
	Name         string
	URL          string
	Secret       string
	Events       []string
	Timeout      time.Duration
	RetryCount   int
	LastUsed     *time.Time
	FailureCount int
}

// OutboundWebhookEvent представляет событие для отправки
type OutboundWebhookEvent struct {
	EventType string                 `json:"event_type"`
	Timestamp int64                  `json:"timestamp"`
	ServerID  string                 `json:"server_id"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
}

// OutboundWebhookManager рассылает события подписанным получателям.
type OutboundWebhookManager struct {
	webhooks   []*OutboundWebhook
	eventQueue chan OutboundWebhookEvent
	mu         sync.Mutex
	httpClient *http.Client
	serverID   string
	retryDelay time.Duration
	logger     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutboundWebhookManager создает менеджер и запускает воркер очереди.
func NewOutboundWebhookManager(serverID string, hooks []config.OutboundWebhookConfig) *OutboundWebhookManager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := &OutboundWebhookManager{
		eventQueue: make(chan OutboundWebhookEvent, 1000),
		serverID:   serverID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryDelay: time.Second,
		logger:     logging.GetNetworkLogger(),
		ctx:        ctx,
		cancel:     cancel,
	}

	for _, h := range hooks {
		wh := &OutboundWebhook{
			Name:       h.Name,
			URL:        h.URL,
			Secret:     h.Secret,
			Events:     h.Events,
			Timeout:    time.Duration(h.TimeoutSec) * time.Second,
			RetryCount: h.RetryCount,
		}
		if wh.Timeout <= 0 {
			wh.Timeout = 10 * time.Second
		}
		if wh.RetryCount <= 0 {
			wh.RetryCount = 3
		}
		if len(wh.Events) == 0 {
			wh.Events = []string{"*"}
		}
		manager.webhooks = append(manager.webhooks, wh)
	}

	manager.wg.Add(1)
	go manager.eventWorker()

	return manager
}

// worldEventData — данные события о мире.
func worldEventData(w session.World) map[string]interface{} {
	data := map[string]interface{}{
		"world_id":   w.ID,
		"status":     string(w.Status),
		"created_at": w.CreatedAt.UnixMilli(),
	}
	if w.EndsAt != nil {
		data["ends_at"] = w.EndsAt.UnixMilli()
	}
	if w.EndedAt != nil {
		data["ended_at"] = w.EndedAt.UnixMilli()
	}
	return data
}

// NotifyWorldEnded ставит в очередь world.ended; подходит как колбэк наблюдателя сроков.
func (owm *OutboundWebhookManager) NotifyWorldEnded(w session.World) {
	owm.SendEvent(EventWorldEnded, worldEventData(w))
}

// SendEvent отправляет событие всем подписанным webhook'ам
func (owm *OutboundWebhookManager) SendEvent(eventType string, data map[string]interface{}) {
	if len(owm.webhooks) == 0 {
		return
	}

	event := OutboundWebhookEvent{
		EventType: eventType,
		Timestamp: time.Now().Unix(),
		ServerID:  owm.serverID,
		Data:      data,
		Source:    "place3d",
	}

	select {
	case <-owm.ctx.Done():
		return
	default:
	}

	// Добавляем событие в очередь
	select {
	case owm.eventQueue <- event:
		owm.logger.Debug("📤 Event %s queued for webhooks", eventType)
	default:
		owm.logger.Warn("⚠️  Webhook queue full, event %s dropped", eventType)
	}
}

// Stop останавливает воркер и дожидается текущих отправок.
func (owm *OutboundWebhookManager) Stop() {
	owm.cancel()
	owm.wg.Wait()
}

// eventWorker обрабатывает события из очереди
func (owm *OutboundWebhookManager) eventWorker() {
	defer owm.wg.Done()
	for {
		select {
		case <-owm.ctx.Done():
			return
		case event := <-owm.eventQueue:
			owm.processEvent(event)
		}
	}
}

// processEvent обрабатывает одно событие
func (owm *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	for _, webhook := range owm.webhooks {
		if !isSubscribedToEvent(webhook, event.EventType) {
			continue
		}
		owm.wg.Add(1)
		go func(wh *OutboundWebhook) {
			defer owm.wg.Done()
			owm.sendToWebhook(wh, event)
		}(webhook)
	}
}

// isSubscribedToEvent проверяет, подписан ли webhook на событие
func isSubscribedToEvent(webhook *OutboundWebhook, eventType string) bool {
	for _, subscribedEvent := range webhook.Events {
		if subscribedEvent == eventType || subscribedEvent == "*" {
			return true
		}
	}
	return false
}

// sendToWebhook отправляет событие конкретному webhook'у
func (owm *OutboundWebhookManager) sendToWebhook(webhook *OutboundWebhook, event OutboundWebhookEvent) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		owm.logger.Error("❌ Marshal event for webhook %s: %v", webhook.Name, err)
		return
	}

	success := false
	for attempt := 0; attempt <= webhook.RetryCount; attempt++ {
		if attempt > 0 && !owm.backoff(attempt) {
			break
		}

		status, err := owm.post(webhook, event, jsonData)
		if err != nil {
			owm.logger.Warn("⚠️  Attempt %d/%d for webhook %s: %v", attempt+1, webhook.RetryCount+1, webhook.Name, err)
			continue
		}
		if status >= 200 && status < 300 {
			success = true
			owm.logger.Info("✅ Event %s delivered to webhook %s", event.EventType, webhook.Name)
			break
		}
		owm.logger.Warn("⚠️  Webhook %s returned %d on attempt %d", webhook.Name, status, attempt+1)
	}

	owm.mu.Lock()
	now := time.Now()
	webhook.LastUsed = &now
	if !success {
		webhook.FailureCount++
	}
	owm.mu.Unlock()
}

// backoff ждёт перед повторной попыткой; false — менеджер остановлен.
func (owm *OutboundWebhookManager) backoff(attempt int) bool {
	t := time.NewTimer(time.Duration(attempt) * owm.retryDelay)
	defer t.Stop()
	select {
	case <-owm.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// post выполняет одну попытку; тело создаётся заново для каждой попытки.
func (owm *OutboundWebhookManager) post(webhook *OutboundWebhook, event OutboundWebhookEvent, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(owm.ctx, webhook.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "place3d/1.0")
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Server-ID", event.ServerID)
	if webhook.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(webhook.Secret, body))
	}

	resp, err := owm.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// FailureCount возвращает число неудачных доставок webhook'а по имени.
func (owm *OutboundWebhookManager) FailureCount(name string) int {
	owm.mu.Lock()
	defer owm.mu.Unlock()
	for _, wh := range owm.webhooks {
		if wh.Name == name {
			return wh.FailureCount
		}
	}
	return 0
}
