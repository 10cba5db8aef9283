package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/place3d/internal/auth"
	"github.com/annel0/place3d/internal/placement"
	"github.com/annel0/place3d/internal/protocol"
	"github.com/annel0/place3d/internal/session"
	"github.com/annel0/place3d/internal/vec"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateWorldRequest — тело POST /api/worlds.
type CreateWorldRequest struct {
	WorldID string `json:"world_id"`
	// DurationSeconds: nil — срок по умолчанию, 0 — мир без срока.
	DurationSeconds *int64 `json:"duration_seconds"`
}

// PlacementRequest — тело POST /api/worlds/:worldID/placements.
type PlacementRequest struct {
	RequestID string    `json:"request_id"`
	Position  *vec.Vec3 `json:"position" binding:"required"`
	Color     string    `json:"color" binding:"required"`
}

// TokenRequest — тело POST /api/auth/token.
type TokenRequest struct {
	Username string `json:"username" binding:"required"`
	Admin    bool   `json:"admin"`
}

func (rs *RestServer) worldID(c *gin.Context) (string, bool) {
	id := c.Param("worldID")
	if !ValidWorldID(id) {
		fail(c, http.StatusBadRequest, "Неверный идентификатор мира")
		return "", false
	}
	return id, true
}

func (rs *RestServer) sessionError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrWorldNotFound) {
		fail(c, http.StatusNotFound, "Мир не найден")
		return
	}
	rs.logger.Error("Session storage error: %v", err)
	fail(c, http.StatusServiceUnavailable, "Хранилище недоступно, попробуйте позже")
}

func (rs *RestServer) handleListWorlds(c *gin.Context) {
	worlds, err := rs.sessions.ListActive(c.Request.Context())
	if err != nil {
		rs.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Активные миры", Data: worlds})
}

func (rs *RestServer) handleCreateWorld(c *gin.Context) {
	var req CreateWorldRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Неверный формат запроса")
			return
		}
	}

	if req.WorldID == "" {
		req.WorldID = uuid.NewString()
	}
	if !ValidWorldID(req.WorldID) {
		fail(c, http.StatusBadRequest, "Неверный идентификатор мира")
		return
	}

	duration := rs.cfg.WorldDuration
	if req.DurationSeconds != nil {
		if *req.DurationSeconds < 0 {
			fail(c, http.StatusBadRequest, "duration_seconds не может быть отрицательным")
			return
		}
		duration = time.Duration(*req.DurationSeconds) * time.Second
	}

	w, err := rs.createWorld(c.Request.Context(), req.WorldID, duration)
	if errors.Is(err, session.ErrWorldExists) {
		fail(c, http.StatusConflict, "Мир уже существует")
		return
	}
	if err != nil {
		rs.sessionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Мир создан", Data: w})
}

func (rs *RestServer) createWorld(ctx context.Context, worldID string, duration time.Duration) (session.World, error) {
	var endsAt *time.Time
	if duration > 0 {
		e := rs.cfg.Clock.Now().Add(duration)
		endsAt = &e
	}

	w, err := rs.sessions.Create(ctx, worldID, endsAt)
	if err != nil {
		return session.World{}, err
	}

	rs.logger.Info("🌍 World %s created (duration %v)", w.ID, duration)
	if rs.outbound != nil {
		rs.outbound.SendEvent(EventWorldCreated, worldEventData(w))
	}
	return w, nil
}

// WorldInfo — мир вместе с числом поставленных кубов.
type WorldInfo struct {
	session.World
	CubeCount int64 `json:"cube_count"`
}

func (rs *RestServer) handleGetWorld(c *gin.Context) {
	id, ok := rs.worldID(c)
	if !ok {
		return
	}
	w, err := rs.sessions.Get(c.Request.Context(), id)
	if err != nil {
		rs.sessionError(c, err)
		return
	}
	n, err := rs.service.CubeCount(c.Request.Context(), id)
	if err != nil {
		rs.logger.Error("Cube count failed for world %s: %v", id, err)
		fail(c, http.StatusServiceUnavailable, "Хранилище недоступно")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Мир", Data: WorldInfo{World: w, CubeCount: n}})
}

func (rs *RestServer) handleEndWorld(c *gin.Context) {
	id, ok := rs.worldID(c)
	if !ok {
		return
	}
	w, err := rs.endWorld(c.Request.Context(), id)
	if err != nil {
		rs.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Мир завершён", Data: w})
}

// endWorld идемпотентен; уведомление уходит только от вызова, выполнившего переход.
func (rs *RestServer) endWorld(ctx context.Context, worldID string) (session.World, error) {
	transitioned, err := rs.sessions.End(ctx, worldID)
	if err != nil {
		return session.World{}, err
	}
	w, err := rs.sessions.Get(ctx, worldID)
	if err != nil {
		return session.World{}, err
	}

	if transitioned {
		rs.logger.Info("🏁 World %s ended", worldID)
		if rs.outbound != nil {
			rs.outbound.SendEvent(EventWorldEnded, worldEventData(w))
		}
	}
	return w, nil
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 100 {
		fail(c, http.StatusBadRequest, "Неверный параметр "+name)
		return 0, false
	}
	return n, true
}

func (rs *RestServer) handleSnapshot(c *gin.Context) {
	id, ok := rs.worldID(c)
	if !ok {
		return
	}
	top, ok := queryInt(c, "top")
	if !ok {
		return
	}

	snap, err := rs.service.Snapshot(c.Request.Context(), id, top)
	if err != nil {
		rs.sessionError(c, err)
		return
	}

	msg := protocol.NewWorldSnapshot(rs.service.Codec(), snap, "")
	rs.writeGzipJSON(c, http.StatusOK, GenericResponse{Success: true, Message: "Снапшот мира", Data: msg})
}

func (rs *RestServer) handleLeaderboard(c *gin.Context) {
	id, ok := rs.worldID(c)
	if !ok {
		return
	}
	k, ok := queryInt(c, "k")
	if !ok {
		return
	}

	top, err := rs.service.Leaderboard(c.Request.Context(), id, k)
	if err != nil {
		rs.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Лидерборд", Data: top})
}

// outcomeStatus — HTTP-статус для исхода размещения.
func outcomeStatus(o placement.Outcome) int {
	switch o {
	case placement.OutcomeAccepted:
		return http.StatusOK
	case placement.OutcomeCooldownActive:
		return http.StatusTooManyRequests
	case placement.OutcomeWorldEnded:
		return http.StatusConflict
	case placement.OutcomeOutOfBounds:
		return http.StatusUnprocessableEntity
	case placement.OutcomeStorageError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (rs *RestServer) handlePlacement(c *gin.Context) {
	id, ok := rs.worldID(c)
	if !ok {
		return
	}

	var req PlacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	username := c.GetString(usernameKey)
	res := rs.service.AttemptPlacement(c.Request.Context(), id, username, *req.Position, req.Color)

	status := outcomeStatus(res.Outcome)
	if res.Outcome == placement.OutcomeCooldownActive {
		c.Header("Retry-After", strconv.Itoa(res.RemainingSeconds()))
	}

	msg := protocol.ResultMessage(rs.service.Codec(), req.RequestID, rs.service.Config().Window, res)
	c.JSON(status, GenericResponse{
		Success: res.Accepted(),
		Message: string(res.Outcome),
		Data:    msg,
	})
}

func (rs *RestServer) handleIssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	issue := rs.issuer.Issue
	if req.Admin {
		issue = rs.issuer.IssueAdmin
	}
	token, err := issue(req.Username)
	if errors.Is(err, auth.ErrInvalidUsername) {
		fail(c, http.StatusBadRequest, "Недопустимое имя пользователя")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "Не удалось выпустить токен")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Токен выпущен",
		Data:    gin.H{"token": token, "username": req.Username, "admin": req.Admin},
	})
}

type payloadKey struct{}

// servePayload отдаёт заранее сериализованный JSON из контекста запроса.
func servePayload(w http.ResponseWriter, r *http.Request) {
	p := r.Context().Value(payloadKey{}).(payload)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(p.status)
	_, _ = w.Write(p.data)
}

type payload struct {
	status int
	data   []byte
}

// writeGzipJSON сжимает ответ, если клиент принимает gzip и тело достаточно велико.
func (rs *RestServer) writeGzipJSON(c *gin.Context, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Ошибка сериализации")
		return
	}
	ctx := context.WithValue(c.Request.Context(), payloadKey{}, payload{status: status, data: data})
	rs.gzipJSON.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
}
