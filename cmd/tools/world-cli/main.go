package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/annel0/place3d/internal/auth"
)

const defaultServerAddr = "http://localhost:8088"

// response повторяет GenericResponse REST API.
type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "REST API base URL")
		command    = flag.String("cmd", "list", "Command: list, create, status, end, leaderboard, snapshot, token, admin-token, place")
		worldID    = flag.String("world", "", "World ID")
		duration   = flag.Duration("duration", -1, "World duration for create (0 = no expiry, default from server)")
		top        = flag.Int("top", 0, "Leaderboard size (0 = server default)")
		username   = flag.String("user", "", "Username for token")
		token      = flag.String("token", os.Getenv("PLACE3D_TOKEN"), "Bearer token (operator token for create/end)")
		admin      = flag.Bool("admin", false, "Request an operator token from the dev token endpoint")
		secret     = flag.String("secret", os.Getenv("PLACE3D_JWT_SECRET"), "auth.secret of the server for admin-token")
		position   = flag.String("pos", "", "Grid position x,y,z for place")
		color      = flag.String("color", "#ff0000", "Cube color for place")
	)
	flag.Parse()

	c := &client{
		base:  strings.TrimRight(*serverAddr, "/"),
		token: *token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}

	var err error
	switch *command {
	case "list":
		err = c.list()
	case "create":
		err = c.create(*worldID, *duration)
	case "status":
		err = c.status(requireWorld(*worldID))
	case "end":
		err = c.end(requireWorld(*worldID))
	case "leaderboard":
		err = c.leaderboard(requireWorld(*worldID), *top)
	case "snapshot":
		err = c.snapshot(requireWorld(*worldID), *top)
	case "token":
		err = c.issueToken(*username, *admin)
	case "admin-token":
		err = mintAdminToken(*secret, *username)
	case "place":
		err = c.place(requireWorld(*worldID), *position, *color)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: list, create, status, end, leaderboard, snapshot, token, admin-token, place")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

func requireWorld(id string) string {
	if id == "" {
		log.Fatal("❌ -world is required")
	}
	return id
}

func (c *client) do(method, path string, body interface{}) (*response, int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	return &out, resp.StatusCode, nil
}

type world struct {
	ID        string     `json:"world_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndsAt    *time.Time `json:"ends_at"`
	EndedAt   *time.Time `json:"ended_at"`
	CubeCount *int64     `json:"cube_count"`
}

func printWorld(w world) {
	fmt.Printf("🌍 %-36s  %-6s  created %s", w.ID, w.Status, w.CreatedAt.Local().Format(time.RFC3339))
	if w.EndsAt != nil && w.Status == "active" {
		fmt.Printf("  ends in %s", time.Until(*w.EndsAt).Round(time.Second))
	}
	if w.EndedAt != nil {
		fmt.Printf("  ended %s", w.EndedAt.Local().Format(time.RFC3339))
	}
	if w.CubeCount != nil {
		fmt.Printf("  %d cubes", *w.CubeCount)
	}
	fmt.Println()
}

func decodeWorld(resp *response, status int) error {
	if !resp.Success {
		return fmt.Errorf("HTTP %d: %s", status, resp.Message)
	}
	var w world
	if err := json.Unmarshal(resp.Data, &w); err != nil {
		return err
	}
	printWorld(w)
	return nil
}

func (c *client) list() error {
	resp, status, err := c.do(http.MethodGet, "/api/worlds", nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("HTTP %d: %s", status, resp.Message)
	}
	var worlds []world
	if err := json.Unmarshal(resp.Data, &worlds); err != nil {
		return err
	}
	for _, w := range worlds {
		printWorld(w)
	}
	fmt.Printf("\n📊 Active worlds: %d\n", len(worlds))
	return nil
}

func (c *client) create(worldID string, duration time.Duration) error {
	body := map[string]interface{}{}
	if worldID != "" {
		body["world_id"] = worldID
	}
	if duration >= 0 {
		body["duration_seconds"] = int64(duration / time.Second)
	}
	resp, status, err := c.do(http.MethodPost, "/api/worlds", body)
	if err != nil {
		return err
	}
	return decodeWorld(resp, status)
}

func (c *client) status(worldID string) error {
	resp, status, err := c.do(http.MethodGet, "/api/worlds/"+worldID, nil)
	if err != nil {
		return err
	}
	return decodeWorld(resp, status)
}

func (c *client) end(worldID string) error {
	resp, status, err := c.do(http.MethodPost, "/api/worlds/"+worldID+"/end", nil)
	if err != nil {
		return err
	}
	return decodeWorld(resp, status)
}

type entry struct {
	Username string `json:"username"`
	Score    int64  `json:"score"`
}

func printLeaderboard(entries []entry) {
	fmt.Println("🏆 Leaderboard")
	for i, e := range entries {
		fmt.Printf("  %2d. %-24s %d\n", i+1, e.Username, e.Score)
	}
}

func (c *client) leaderboard(worldID string, k int) error {
	resp, status, err := c.do(http.MethodGet, fmt.Sprintf("/api/worlds/%s/leaderboard?k=%d", worldID, k), nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("HTTP %d: %s", status, resp.Message)
	}
	var entries []entry
	if err := json.Unmarshal(resp.Data, &entries); err != nil {
		return err
	}
	printLeaderboard(entries)
	return nil
}

func (c *client) snapshot(worldID string, k int) error {
	resp, status, err := c.do(http.MethodGet, fmt.Sprintf("/api/worlds/%s/snapshot?top=%d", worldID, k), nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("HTTP %d: %s", status, resp.Message)
	}

	var snap struct {
		WorldID     string `json:"world_id"`
		WorldStatus string `json:"world_status"`
		GridExtent  int    `json:"grid_extent"`
		Cubes       map[string]struct {
			Color    string `json:"color"`
			PlacedBy string `json:"placed_by"`
		} `json:"cubes"`
		Leaderboard []entry `json:"leaderboard"`
	}
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		return err
	}

	fmt.Printf("🌍 %s (%s), grid %d³, %d cubes\n", snap.WorldID, snap.WorldStatus, snap.GridExtent, len(snap.Cubes))
	keys := make([]string, 0, len(snap.Cubes))
	for k := range snap.Cubes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cube := snap.Cubes[k]
		fmt.Printf("  🧊 %-10s %-9s %s\n", k, cube.Color, cube.PlacedBy)
	}
	printLeaderboard(snap.Leaderboard)
	return nil
}

func (c *client) issueToken(username string, admin bool) error {
	if username == "" {
		return fmt.Errorf("-user is required")
	}
	body := map[string]interface{}{"username": username, "admin": admin}
	resp, status, err := c.do(http.MethodPost, "/api/auth/token", body)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("HTTP %d: %s", status, resp.Message)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return err
	}
	fmt.Println(data.Token)
	return nil
}

// mintAdminToken подписывает токен оператора локально, ключом сервера.
func mintAdminToken(secret, username string) error {
	if secret == "" {
		return fmt.Errorf("-secret or PLACE3D_JWT_SECRET is required")
	}
	if username == "" {
		username = "operator"
	}
	issuer, err := auth.NewIssuer(secret, time.Hour)
	if err != nil {
		return err
	}
	token, err := issuer.IssueAdmin(username)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func (c *client) place(worldID, pos, color string) error {
	var x, y, z int
	if _, err := fmt.Sscanf(pos, "%d,%d,%d", &x, &y, &z); err != nil {
		return fmt.Errorf("invalid -pos %q, expected x,y,z", pos)
	}
	body := map[string]interface{}{
		"position": map[string]int{"x": x, "y": y, "z": z},
		"color":    color,
	}
	resp, status, err := c.do(http.MethodPost, "/api/worlds/"+worldID+"/placements", body)
	if err != nil {
		return err
	}

	var result map[string]interface{}
	_ = json.Unmarshal(resp.Data, &result)
	if resp.Success {
		fmt.Printf("✅ Placed %s at (%d,%d,%d), cooldown %vs\n", color, x, y, z, result["cooldown_seconds"])
		return nil
	}
	fmt.Printf("⛔ HTTP %d: %v (%v)\n", status, result["reason"], result["message"])
	if secs, ok := result["remaining_seconds"]; ok {
		fmt.Printf("   ⏱  retry in %vs\n", secs)
	}
	return nil
}
