package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/annel0/place3d/internal/coords"
	"github.com/annel0/place3d/internal/grid"
	"github.com/annel0/place3d/internal/placement"
	"github.com/annel0/place3d/internal/session"
	"github.com/annel0/place3d/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSerializer(t *testing.T) *MessageSerializer {
	t.Helper()
	ms, err := NewMessageSerializer()
	require.NoError(t, err)
	return ms
}

func TestDecodePlace_Valid(t *testing.T) {
	ms := newSerializer(t)
	req, err := ms.DecodePlace([]byte(`{"type":"place","request_id":"r1","position":{"x":1,"y":2,"z":3},"color":"#ff0000"}`))
	require.NoError(t, err)
	assert.Equal(t, "r1", req.RequestID)
	assert.Equal(t, vec.Vec3{X: 1, Y: 2, Z: 3}, req.Position)
	assert.Equal(t, "#ff0000", req.Color)
}

func TestDecode_RejectsInvalid(t *testing.T) {
	ms := newSerializer(t)
	cases := map[string]string{
		"not json":         `{`,
		"no type":          `{"position":{"x":1,"y":1,"z":1}}`,
		"unknown type":     `{"type":"teleport"}`,
		"missing color":    `{"type":"place","position":{"x":1,"y":1,"z":1}}`,
		"empty color":      `{"type":"place","position":{"x":1,"y":1,"z":1},"color":""}`,
		"fractional axis":  `{"type":"place","position":{"x":1.5,"y":1,"z":1},"color":"#fff"}`,
		"missing axis":     `{"type":"place","position":{"x":1,"y":1},"color":"#fff"}`,
		"extra axis field": `{"type":"place","position":{"x":1,"y":1,"z":1,"w":4},"color":"#fff"}`,
		"color not string": `{"type":"place","position":{"x":1,"y":1,"z":1},"color":7}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ms.Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestDecode_OtherTypes(t *testing.T) {
	ms := newSerializer(t)
	mt, err := ms.Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, MsgPing, mt)

	_, err = ms.DecodePlace([]byte(`{"type":"ping"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecode_OutOfRangeIsSchemaValid(t *testing.T) {
	// границы сетки проверяет сервис размещения, а не схема
	ms := newSerializer(t)
	req, err := ms.DecodePlace([]byte(`{"type":"place","position":{"x":-4,"y":99,"z":0},"color":"#fff"}`))
	require.NoError(t, err)
	assert.Equal(t, -4, req.Position.X)
}

func TestResultMessage(t *testing.T) {
	codec, err := coords.NewCodec(30)
	require.NoError(t, err)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	accepted := ResultMessage(codec, "r1", 20*time.Second, placement.Result{
		Outcome: placement.OutcomeAccepted,
		Cube:    grid.Cube{Position: vec.Vec3{X: 1, Y: 1, Z: 1}, Color: "#f00", PlacedBy: "alice", PlacedAt: at},
	})
	msg, ok := accepted.(PlacementAccepted)
	require.True(t, ok)
	assert.Equal(t, MsgPlacementAccepted, msg.Type)
	assert.Equal(t, 20, msg.CooldownSeconds)
	assert.Equal(t, vec.Vec3Float{X: -14.5, Y: 0.5, Z: -14.5}, msg.Cube.WorldPosition)

	denied := ResultMessage(codec, "r2", 20*time.Second, placement.Result{
		Outcome:   placement.OutcomeCooldownActive,
		Remaining: 12300 * time.Millisecond,
	})
	d, ok := denied.(PlacementDenied)
	require.True(t, ok)
	assert.Equal(t, "cooldown_active", d.Reason)
	assert.Equal(t, 13, d.RemainingSeconds)

	stErr := ResultMessage(codec, "", 0, placement.Result{Outcome: placement.OutcomeStorageError}).(PlacementDenied)
	assert.NotContains(t, stErr.Message, "placed")
	assert.Zero(t, stErr.RemainingSeconds)
}

func TestWorldSnapshotEncoding(t *testing.T) {
	codec, err := coords.NewCodec(30)
	require.NoError(t, err)
	ms := newSerializer(t)

	c := grid.Cube{Position: vec.Vec3{X: 30, Y: 30, Z: 30}, Color: "#0f0", PlacedBy: "bob"}
	snap := NewWorldSnapshot(codec, placement.Snapshot{
		World: session.World{ID: "w1", Status: session.StatusActive},
		Cubes: map[string]grid.Cube{c.Key(): c},
	}, "bob")

	data, err := ms.Encode(snap)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "world_snapshot", decoded["type"])
	assert.Equal(t, "active", decoded["world_status"])
	assert.Equal(t, float64(30), decoded["grid_extent"])
	assert.Equal(t, []interface{}{}, decoded["leaderboard"])
	assert.Contains(t, decoded["cubes"], "30_30_30")

}
