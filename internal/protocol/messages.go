// Package protocol описывает JSON-сообщения между зрителем и сервером.
package protocol

import (
	"time"

	"github.com/annel0/place3d/internal/coords"
	"github.com/annel0/place3d/internal/grid"
	"github.com/annel0/place3d/internal/leaderboard"
	"github.com/annel0/place3d/internal/placement"
	"github.com/annel0/place3d/internal/vec"
)

// MsgType — значение поля "type".
type MsgType string

// Входящие.
const (
	MsgPlace           MsgType = "place"
	MsgSnapshotRequest MsgType = "snapshot_request"
	MsgPing            MsgType = "ping"
)

// Исходящие.
const (
	MsgPlacementAccepted MsgType = "placement_accepted"
	MsgPlacementDenied   MsgType = "placement_denied"
	MsgWorldSnapshot     MsgType = "world_snapshot"
	MsgCubeUpdate        MsgType = "cube_update"
	MsgPong              MsgType = "pong"
	MsgError             MsgType = "error"
)

// Envelope — общий заголовок, по нему выбирается тип сообщения.
type Envelope struct {
	Type MsgType `json:"type"`
}

// PlaceRequest — запрос на размещение куба.
type PlaceRequest struct {
	Type      MsgType  `json:"type"`
	RequestID string   `json:"request_id,omitempty"`
	Position  vec.Vec3 `json:"position"`
	Color     string   `json:"color"`
}

// CubeView — куб в том виде, в котором его рисует клиент: клетка сетки
// плюс центрированные координаты сцены.
type CubeView struct {
	Position      vec.Vec3      `json:"position"`
	WorldPosition vec.Vec3Float `json:"world_position"`
	Color         string        `json:"color"`
	PlacedBy      string        `json:"placed_by"`
	PlacedAt      time.Time     `json:"placed_at"`
}

// NewCubeView переводит куб в координаты сцены через единственный кодек мира.
func NewCubeView(codec *coords.Codec, c grid.Cube) CubeView {
	return CubeView{
		Position:      c.Position,
		WorldPosition: codec.ToWorld(c.Position),
		Color:         c.Color,
		PlacedBy:      c.PlacedBy,
		PlacedAt:      c.PlacedAt,
	}
}

type PlacementAccepted struct {
	Type            MsgType  `json:"type"`
	RequestID       string   `json:"request_id,omitempty"`
	Cube            CubeView `json:"cube"`
	CooldownSeconds int      `json:"cooldown_seconds"`
}

type PlacementDenied struct {
	Type             MsgType `json:"type"`
	RequestID        string  `json:"request_id,omitempty"`
	Reason           string  `json:"reason"`
	RemainingSeconds int     `json:"remaining_seconds,omitempty"`
	Message          string  `json:"message"`
}

type WorldSnapshot struct {
	Type        MsgType             `json:"type"`
	WorldID     string              `json:"world_id"`
	WorldStatus string              `json:"world_status"`
	GridExtent  int                 `json:"grid_extent"`
	Username    string              `json:"username,omitempty"`
	Cubes       map[string]CubeView `json:"cubes"`
	Leaderboard []leaderboard.Entry `json:"leaderboard"`
}

type CubeUpdate struct {
	Type    MsgType  `json:"type"`
	WorldID string   `json:"world_id"`
	Cube    CubeView `json:"cube"`
}

type Pong struct {
	Type MsgType   `json:"type"`
	Time time.Time `json:"time"`
}

type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Message string  `json:"message"`
}

// NewWorldSnapshot собирает сообщение-снапшот.
func NewWorldSnapshot(codec *coords.Codec, snap placement.Snapshot, username string) WorldSnapshot {
	cubes := make(map[string]CubeView, len(snap.Cubes))
	for k, c := range snap.Cubes {
		cubes[k] = NewCubeView(codec, c)
	}
	top := snap.Leaderboard
	if top == nil {
		top = []leaderboard.Entry{}
	}
	return WorldSnapshot{
		Type:        MsgWorldSnapshot,
		WorldID:     snap.World.ID,
		WorldStatus: string(snap.World.Status),
		GridExtent:  codec.Extent(),
		Username:    username,
		Cubes:       cubes,
		Leaderboard: top,
	}
}

func NewCubeUpdate(codec *coords.Codec, worldID string, c grid.Cube) CubeUpdate {
	return CubeUpdate{Type: MsgCubeUpdate, WorldID: worldID, Cube: NewCubeView(codec, c)}
}

// ResultMessage переводит результат размещения в ответ зрителю.
func ResultMessage(codec *coords.Codec, requestID string, window time.Duration, res placement.Result) interface{} {
	if res.Accepted() {
		return PlacementAccepted{
			Type:            MsgPlacementAccepted,
			RequestID:       requestID,
			Cube:            NewCubeView(codec, res.Cube),
			CooldownSeconds: int(window / time.Second),
		}
	}
	return PlacementDenied{
		Type:             MsgPlacementDenied,
		RequestID:        requestID,
		Reason:           string(res.Outcome),
		RemainingSeconds: res.RemainingSeconds(),
		Message:          DenialText(res),
	}
}

// DenialText — текст для пользователя. Про ошибку хранилища не утверждается,
// что куб поставлен.
func DenialText(res placement.Result) string {
	switch res.Outcome {
	case placement.OutcomeCooldownActive:
		return "Cooldown is active, please wait"
	case placement.OutcomeWorldEnded:
		return "This world has ended"
	case placement.OutcomeOutOfBounds:
		return "Position is outside the grid"
	case placement.OutcomeInvalidRequest:
		return "Invalid placement request"
	case placement.OutcomeStorageError:
		return "Something went wrong, please try again"
	default:
		return ""
	}
}
