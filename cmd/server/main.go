package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/place3d/internal/api"
	"github.com/annel0/place3d/internal/auth"
	"github.com/annel0/place3d/internal/broadcast"
	"github.com/annel0/place3d/internal/clock"
	"github.com/annel0/place3d/internal/config"
	"github.com/annel0/place3d/internal/coords"
	"github.com/annel0/place3d/internal/cooldown"
	"github.com/annel0/place3d/internal/leaderboard"
	"github.com/annel0/place3d/internal/logging"
	"github.com/annel0/place3d/internal/observability"
	"github.com/annel0/place3d/internal/placement"
	"github.com/annel0/place3d/internal/protocol"
	"github.com/annel0/place3d/internal/session"
	"github.com/annel0/place3d/internal/storage"
	"github.com/annel0/place3d/internal/transport/ws"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// backends — выбранные реализации хранилищ и шины.
type backends struct {
	sessions session.Sessions
	gate     cooldown.Gate
	grid     storage.GridStore
	board    leaderboard.Board
	bus      broadcast.Bus
	closers  []io.Closer
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			logging.Warn("Close backend: %v", err)
		}
	}
}

func buildBackends(cfg *config.Config, clk clock.Clock, nodeID string) (*backends, error) {
	b := &backends{}

	var rdb *redis.Client
	needRedis := cfg.Backend.State == "redis" || cfg.Backend.Grid == "redis"
	if needRedis {
		var err error
		rdb, err = storage.NewRedisClient(&storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, rdb)
	}

	switch cfg.Backend.State {
	case "redis":
		b.sessions = session.NewRedisSessions(rdb, clk)
		b.gate = cooldown.NewRedisGate(rdb, clk)
		b.board = leaderboard.NewRedisBoard(rdb)
	default:
		b.sessions = session.NewMemorySessions(clk)
		b.gate = cooldown.NewMemoryGate(clk)
		b.board = leaderboard.NewMemoryBoard()
	}

	switch cfg.Backend.Grid {
	case "redis":
		b.grid = storage.NewRedisGridStore(rdb)
	case "sql":
		store, err := storage.NewSQLGridStore(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.grid = store
		b.closers = append(b.closers, store)
	default:
		b.grid = storage.NewMemoryGridStore()
	}

	switch cfg.Backend.Bus {
	case "nats":
		bus, err := broadcast.NewNATSBus(broadcast.NATSConfig{
			URL:              cfg.NATS.URL,
			SubjectPrefix:    cfg.NATS.SubjectPrefix,
			MaxReconnects:    cfg.NATS.MaxReconnects,
			SubscriberBuffer: cfg.NATS.BufferSize,
			NodeID:           nodeID,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.bus = bus
	default:
		b.bus = broadcast.NewMemoryBus(1024, cfg.NATS.BufferSize)
	}
	b.closers = append(b.closers, b.bus)

	logging.Info("🧱 Backends: state=%s grid=%s bus=%s", cfg.Backend.State, cfg.Backend.Grid, cfg.Backend.Bus)
	return b, nil
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (default: $PLACE3D_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.Configure(cfg.Logging.Dir, logging.ParseLevel(cfg.Logging.Level))
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	nodeID := uuid.NewString()
	logging.Info("🎮 Запуск place3d (node %s)...", nodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName, nodeID)
		if err != nil {
			logging.Warn("⚠️  Telemetry disabled: %v", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	clk := clock.System{}
	b, err := buildBackends(cfg, clk, nodeID)
	if err != nil {
		logging.Error("❌ Ошибка инициализации хранилищ: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	codec, err := coords.NewCodec(cfg.Game.GridExtent)
	if err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := placement.NewService(placement.Config{
		Window:          cfg.Game.Cooldown(),
		LeaderboardTopK: cfg.Game.LeaderboardTopK,
	}, placement.Deps{
		Sessions: b.sessions,
		Gate:     b.gate,
		Codec:    codec,
		Grid:     b.grid,
		Board:    b.board,
		Bus:      b.bus,
		Clock:    clk,
		Metrics:  placement.NewMetrics(registry),
	})
	if err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, time.Duration(cfg.Auth.TokenTTL)*time.Hour)
	if err != nil {
		logging.Error("❌ Ошибка настройки JWT: %v", err)
		os.Exit(1)
	}
	if cfg.Auth.Secret == "" {
		logging.Warn("⚠️  auth.secret не задан: токены не переживут перезапуск")
	}

	outbound := api.NewOutboundWebhookManager(nodeID, cfg.Webhooks.Outbound)
	defer outbound.Stop()

	rest, err := api.NewRestServer(api.Config{
		Port:                 cfg.Server.GetHTTPPort(),
		NodeID:               nodeID,
		Service:              svc,
		Sessions:             b.sessions,
		Issuer:               issuer,
		Bus:                  b.bus,
		Clock:                clk,
		DevTokens:            cfg.Auth.DevTokens,
		WorldDuration:        cfg.Game.WorldDuration(),
		Registry:             registry,
		InboundWebhookSecret: cfg.Webhooks.InboundSecret,
		Outbound:             outbound,
	})
	if err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}

	serializer, err := protocol.NewMessageSerializer()
	if err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	wsServer, err := ws.NewServer(ws.Config{
		Service:    svc,
		Bus:        b.bus,
		Issuer:     issuer,
		Serializer: serializer,
		Registerer: registry,
	})
	if err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	wsServer.Register(rest.Router())

	exporter := broadcast.NewMetricsExporter(b.bus, registry)
	exporter.Start()
	defer exporter.Stop()

	watcher := session.NewExpiryWatcher(b.sessions, clk, cfg.Game.ExpiryCheckInterval(), outbound.NotifyWorldEnded)
	go watcher.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- rest.Start() }()

	logging.Info("✅ place3d готов: http://localhost:%d (ws: /ws/worlds/:worldID)", cfg.Server.GetHTTPPort())
	logging.Info("   ⏱  Кулдаун %v, сетка %d³", cfg.Game.Cooldown(), cfg.Game.GridExtent)

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case err := <-errCh:
		if err != nil {
			logging.Error("❌ REST API: %v", err)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rest.Stop(sctx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	// закрытие шины закрывает подписки и выводит websocket-сессии из цикла
	_ = b.bus.Close()
	wsServer.Wait()

	logging.Info("👋 Сервер успешно остановлен")
}
