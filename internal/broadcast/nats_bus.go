package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/place3d/internal/grid"
	"github.com/annel0/place3d/internal/logging"
	"github.com/nats-io/nats.go"
)

// NATSConfig содержит параметры NATS-шины.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	// SubscriberBuffer — ёмкость локального канала подписчика.
	SubscriberBuffer int
	NodeID           string
}

// Update — сообщение на subject {prefix}.{worldID}.
type Update struct {
	WorldID string    `json:"world_id"`
	Cube    grid.Cube `json:"cube"`
	SentAt  time.Time `json:"sent_at"`
	NodeID  string    `json:"node_id"`
}

// NATSBus рассылает обновления между узлами через NATS core pub/sub.
// Собственные публикации узла тоже доставляются его подписчикам.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
	stats  counters
	logger *logging.Logger

	mu     sync.Mutex
	subs   map[*subscriber]*nats.Subscription
	closed bool

	decodeErrors atomic.Uint64
}

// NewNATSBus подключается к NATS.
func NewNATSBus(config NATSConfig) (*NATSBus, error) {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "cube_updates"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}

	logger := logging.GetBroadcastLogger()

	opts := []nats.Option{
		nats.Name("place3d-" + config.NodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("📡 NATS broadcast bus connected: %s (prefix: %s)", config.URL, config.SubjectPrefix)
	return &NATSBus{
		conn:   conn,
		config: config,
		logger: logger,
		subs:   make(map[*subscriber]*nats.Subscription),
	}, nil
}

func (b *NATSBus) subject(worldID string) (string, error) {
	if worldID == "" || strings.ContainsAny(worldID, ".*> \t\r\n") {
		return "", fmt.Errorf("invalid world id for subject: %q", worldID)
	}
	return b.config.SubjectPrefix + "." + worldID, nil
}

func (b *NATSBus) Publish(ctx context.Context, worldID string, cube grid.Cube) error {
	subject, err := b.subject(worldID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(&Update{
		WorldID: worldID,
		Cube:    cube,
		SentAt:  time.Now().UTC(),
		NodeID:  b.config.NodeID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		b.stats.dropped.Add(1)
		return fmt.Errorf("failed to publish update: %w", err)
	}
	b.stats.published.Add(1)
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, worldID string) (Subscription, error) {
	subject, err := b.subject(worldID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	var sub *subscriber
	sub = newSubscriber(worldID, b.config.SubscriberBuffer, &b.stats, func() {
		b.mu.Lock()
		ns, ok := b.subs[sub]
		delete(b.subs, sub)
		b.mu.Unlock()
		if ok {
			if err := ns.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				b.logger.Warn("Failed to unsubscribe from %s: %v", subject, err)
			}
		}
	})

	ns, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var upd Update
		if err := json.Unmarshal(msg.Data, &upd); err != nil {
			b.decodeErrors.Add(1)
			b.logger.Error("Failed to unmarshal update on %s: %v", msg.Subject, err)
			return
		}
		sub.deliver(upd.Cube)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.subs[sub] = ns
	sub.watch(ctx)
	return sub, nil
}

// Flush дожидается подтверждения сервером всех публикаций.
func (b *NATSBus) Flush(timeout time.Duration) error {
	return b.conn.FlushTimeout(timeout)
}

func (b *NATSBus) Stats() Stats {
	s := b.stats.snapshot()
	b.mu.Lock()
	s.Subscribers = len(b.subs)
	b.mu.Unlock()
	return s
}

// Connected сообщает состояние соединения с NATS.
func (b *NATSBus) Connected() bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	return !closed && b.conn.IsConnected()
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := make([]*subscriber, 0, len(b.subs))
	for sub := range b.subs {
		all = append(all, sub)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}

	b.conn.Close()
	b.logger.Info("NATS broadcast bus closed")
	return nil
}
