// Package placement — оркестратор размещения куба:
// WorldSession → CooldownGate → границы → GridStore → Leaderboard →
// CooldownGate.Set → BroadcastBus. Порядок шагов фиксирован: кулдаун
// взводится только после успешной записи куба.
package placement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/annel0/place3d/internal/auth"
	"github.com/annel0/place3d/internal/broadcast"
	"github.com/annel0/place3d/internal/clock"
	"github.com/annel0/place3d/internal/coords"
	"github.com/annel0/place3d/internal/cooldown"
	"github.com/annel0/place3d/internal/grid"
	"github.com/annel0/place3d/internal/leaderboard"
	"github.com/annel0/place3d/internal/logging"
	"github.com/annel0/place3d/internal/session"
	"github.com/annel0/place3d/internal/storage"
	"github.com/annel0/place3d/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxColorLength — предел цвета в байтах; столько же вмещает колонка color в SQL.
const MaxColorLength = 64

// Config — параметры развёртывания.
type Config struct {
	// Window — окно кулдауна; 0 отключает кулдаун.
	Window          time.Duration
	LeaderboardTopK int
}

// Deps — коллабораторы сервиса. Bus и Metrics опциональны.
type Deps struct {
	Sessions session.Sessions
	Gate     cooldown.Gate
	Codec    *coords.Codec
	Grid     storage.GridStore
	Board    leaderboard.Board
	Bus      broadcast.Bus
	Clock    clock.Clock
	Metrics  *Metrics
}

// Snapshot — состояние мира для нового зрителя.
type Snapshot struct {
	World       session.World        `json:"world"`
	Cubes       map[string]grid.Cube `json:"cubes"`
	Leaderboard []leaderboard.Entry  `json:"leaderboard"`
}

// Service обрабатывает попытки размещения. Безопасен для конкурентного использования.
type Service struct {
	cfg      Config
	sessions session.Sessions
	gate     cooldown.Gate
	codec    *coords.Codec
	grid     storage.GridStore
	board    leaderboard.Board
	bus      broadcast.Bus
	clock    clock.Clock
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *logging.Logger
}

// NewService проверяет зависимости и собирает сервис.
func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("placement: sessions is required")
	case deps.Gate == nil:
		return nil, errors.New("placement: cooldown gate is required")
	case deps.Codec == nil:
		return nil, errors.New("placement: codec is required")
	case deps.Grid == nil:
		return nil, errors.New("placement: grid store is required")
	case deps.Board == nil:
		return nil, errors.New("placement: leaderboard is required")
	}
	if cfg.Window < 0 {
		return nil, fmt.Errorf("placement: negative cooldown window %v", cfg.Window)
	}
	if cfg.LeaderboardTopK <= 0 {
		cfg.LeaderboardTopK = 6
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(prometheus.NewRegistry())
	}

	return &Service{
		cfg:      cfg,
		sessions: deps.Sessions,
		gate:     deps.Gate,
		codec:    deps.Codec,
		grid:     deps.Grid,
		board:    deps.Board,
		bus:      deps.Bus,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		tracer:   otel.Tracer("place3d/placement"),
		logger:   logging.GetPlacementLogger(),
	}, nil
}

// Codec возвращает кодек координат мира.
func (s *Service) Codec() *coords.Codec { return s.codec }

// Config возвращает параметры сервиса.
func (s *Service) Config() Config { return s.cfg }

// AttemptPlacement пытается поставить куб color в клетку pos мира worldID.
//
// Шаги 1-3 только читают состояние и при отказе ничего не меняют.
// Начиная с записи куба выполнение отвязано от отмены ctx: отключившийся
// зритель не оставляет размещение записанным наполовину.
func (s *Service) AttemptPlacement(ctx context.Context, worldID, username string, pos vec.Vec3, color string) (res Result) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "placement.attempt", trace.WithAttributes(
		attribute.String("world.id", worldID),
		attribute.String("placement.user", username),
		attribute.String("placement.position", pos.String()),
	))
	defer func() {
		span.SetAttributes(attribute.String("placement.outcome", string(res.Outcome)))
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		if res.Outcome == OutcomeStorageError {
			span.SetStatus(codes.Error, "storage error")
		}
		span.End()
		s.metrics.observe(res.Outcome, time.Since(started))
	}()

	if worldID == "" {
		return Result{Outcome: OutcomeInvalidRequest, Err: errors.New("empty world id")}
	}

	// 1. состояние мира
	status, err := s.sessions.Status(ctx, worldID)
	if errors.Is(err, session.ErrWorldNotFound) {
		return Result{Outcome: OutcomeInvalidRequest, Err: err}
	}
	if err != nil {
		s.logger.Error("Session lookup failed for world %s: %v", worldID, err)
		return Result{Outcome: OutcomeStorageError, Err: err}
	}
	if status == session.StatusEnded {
		return Result{Outcome: OutcomeWorldEnded}
	}

	// 2. кулдаун (только проверка, без взведения)
	decision, err := s.gate.TryAcquire(ctx, worldID, username)
	if err != nil {
		s.logger.Error("Cooldown check failed for %s in %s: %v", username, worldID, err)
		return Result{Outcome: OutcomeStorageError, Err: err}
	}
	if !decision.Admitted {
		return Result{Outcome: OutcomeCooldownActive, Remaining: decision.Remaining}
	}

	// 3. границы и поля запроса
	if err := s.codec.Validate(pos); err != nil {
		return Result{Outcome: OutcomeOutOfBounds, Err: err}
	}
	if err := auth.ValidateUsername(username); err != nil {
		return Result{Outcome: OutcomeInvalidRequest, Err: err}
	}
	if strings.TrimSpace(color) == "" {
		return Result{Outcome: OutcomeInvalidRequest, Err: errors.New("empty color")}
	}
	if len(color) > MaxColorLength {
		return Result{Outcome: OutcomeInvalidRequest, Err: fmt.Errorf("color longer than %d bytes", MaxColorLength)}
	}

	dctx := context.WithoutCancel(ctx)
	cube := grid.Cube{
		Position: pos,
		Color:    color,
		PlacedBy: username,
		PlacedAt: s.clock.Now().UTC().Truncate(time.Millisecond),
	}

	// 4. запись куба; при сбое кулдаун и счёт не трогаются
	if err := s.grid.Put(dctx, worldID, cube); err != nil {
		if !errors.Is(err, storage.ErrStorageUnavailable) {
			err = storage.Unavailable("grid put", err)
		}
		s.logger.Error("Grid write failed for %s at %s in %s: %v", username, pos, worldID, err)
		return Result{Outcome: OutcomeStorageError, Err: err}
	}

	// 5-6. куб уже записан, дальнейшие сбои не меняют исход
	if err := s.board.Increment(dctx, worldID, username, 1); err != nil {
		s.metrics.postWriteFailure("leaderboard")
		s.logger.Error("Leaderboard increment failed for %s in %s: %v", username, worldID, err)
	}
	if err := s.gate.Set(dctx, worldID, username, s.cfg.Window); err != nil {
		s.metrics.postWriteFailure("cooldown")
		s.logger.Error("Cooldown arm failed for %s in %s: %v", username, worldID, err)
	}

	// 7. рассылка
	if s.bus != nil {
		if err := s.bus.Publish(dctx, worldID, cube); err != nil {
			s.metrics.postWriteFailure("broadcast")
			s.logger.Warn("Broadcast failed for %s in %s: %v", pos, worldID, err)
		}
	}

	s.logger.Debug("🧊 %s placed %s %s in %s", username, color, pos, worldID)
	return Result{Outcome: OutcomeAccepted, Cube: cube}
}

// Snapshot собирает мир, его сетку и top-K лидерборда. topK <= 0 — значение из Config.
func (s *Service) Snapshot(ctx context.Context, worldID string, topK int) (Snapshot, error) {
	if topK <= 0 {
		topK = s.cfg.LeaderboardTopK
	}

	w, err := s.sessions.Get(ctx, worldID)
	if err != nil {
		return Snapshot{}, err
	}
	cubes, err := s.grid.GetAll(ctx, worldID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", worldID, err)
	}
	top, err := s.board.TopK(ctx, worldID, topK)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", worldID, err)
	}
	return Snapshot{World: w, Cubes: cubes, Leaderboard: top}, nil
}

// CubeCount возвращает число кубов мира.
func (s *Service) CubeCount(ctx context.Context, worldID string) (int64, error) {
	n, err := s.grid.Count(ctx, worldID)
	if err != nil {
		return 0, fmt.Errorf("cube count %s: %w", worldID, err)
	}
	return n, nil
}

// Leaderboard возвращает top-K мира. topK <= 0 — значение из Config.
func (s *Service) Leaderboard(ctx context.Context, worldID string, topK int) ([]leaderboard.Entry, error) {
	if topK <= 0 {
		topK = s.cfg.LeaderboardTopK
	}
	if _, err := s.sessions.Get(ctx, worldID); err != nil {
		return nil, err
	}
	return s.board.TopK(ctx, worldID, topK)
}
