// Package ws — websocket-транспорт зрителя: снапшот при подключении,
// размещение кубов и поток cube_update от других зрителей мира.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/annel0/place3d/internal/auth"
	"github.com/annel0/place3d/internal/broadcast"
	"github.com/annel0/place3d/internal/logging"
	"github.com/annel0/place3d/internal/placement"
	"github.com/annel0/place3d/internal/protocol"
	"github.com/annel0/place3d/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultSendBuffer   = 256
	defaultWriteWait    = 5 * time.Second
	defaultPongWait     = 60 * time.Second
	maxInboundFrameSize = 4096
)

// Config — зависимости и параметры транспорта.
type Config struct {
	Service    *placement.Service
	Bus        broadcast.Bus
	Issuer     *auth.Issuer
	Serializer *protocol.MessageSerializer

	// Registerer — регистр метрик; nil — глобальный.
	Registerer prometheus.Registerer

	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
}

// Server обслуживает GET /ws/worlds/:worldID.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *logging.Logger

	connections prometheus.Gauge
	dropped     prometheus.Counter

	wg sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil || cfg.Bus == nil || cfg.Issuer == nil || cfg.Serializer == nil {
		return nil, errors.New("ws: service, bus, issuer and serializer are required")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		logger: logging.GetNetworkLogger(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "place3d",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Открытые websocket-соединения зрителей.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "place3d",
			Subsystem: "ws",
			Name:      "updates_dropped_total",
			Help:      "cube_update, отброшенные из-за медленного клиента.",
		}),
	}
	cfg.Registerer.MustRegister(s.connections, s.dropped)
	return s, nil
}

// Register добавляет маршрут websocket.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ws/worlds/:worldID", s.Handler())
}

// Wait дожидается закрытия всех соединений.
func (s *Server) Wait() {
	s.wg.Wait()
}

func requestToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return token
}

// Handler проверяет токен и мир до upgrade, так что ошибки приходят обычным HTTP-статусом.
func (s *Server) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		worldID := c.Param("worldID")

		claims, err := s.cfg.Issuer.Validate(requestToken(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Недействительный токен"})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Подписка раньше снапшота: обновления между ними не теряются,
		// а устаревшие отсекает реплика.
		sub, err := s.cfg.Bus.Subscribe(ctx, worldID)
		if err != nil {
			s.logger.Warn("Subscribe %s failed: %v", worldID, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Трансляция недоступна"})
			return
		}
		defer sub.Unsubscribe()

		snap, err := s.cfg.Service.Snapshot(ctx, worldID, 0)
		if errors.Is(err, session.ErrWorldNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "message": "Мир не найден"})
			return
		}
		if err != nil {
			s.logger.Error("Snapshot %s failed: %v", worldID, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Хранилище недоступно"})
			return
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.wg.Add(1)
		defer s.wg.Done()
		s.connections.Inc()
		defer s.connections.Dec()

		sess := &viewer{
			srv:      s,
			conn:     conn,
			worldID:  worldID,
			username: claims.Username,
			out:      make(chan []byte, s.cfg.SendBuffer),
			replica:  broadcast.NewReplica(),
			ctx:      ctx,
			cancel:   cancel,
		}
		sess.replica.Seed(snap.Cubes)

		s.logger.Info("👀 %s joined world %s (%d cubes)", sess.username, worldID, len(snap.Cubes))
		sess.run(snap, sub)
		s.logger.Info("👋 %s left world %s", sess.username, worldID)
	}
}

// viewer — одно соединение зрителя.
type viewer struct {
	srv      *Server
	conn     *websocket.Conn
	worldID  string
	username string
	out      chan []byte
	replica  *broadcast.Replica

	ctx    context.Context
	cancel context.CancelFunc
}

func (v *viewer) run(snap placement.Snapshot, sub broadcast.Subscription) {
	// Снапшот всегда первое сообщение соединения.
	v.reply(protocol.NewWorldSnapshot(v.srv.cfg.Service.Codec(), snap, v.username))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		v.writeLoop()
	}()
	go v.forward(sub)
	go func() {
		// снимает readLoop с ReadMessage при закрытии шины или ошибке записи
		<-v.ctx.Done()
		_ = v.conn.SetReadDeadline(time.Now())
	}()

	v.readLoop()
	v.cancel()

	_ = v.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))

	select {
	case <-writerDone:
	case <-time.After(500 * time.Millisecond):
	}
}

func (v *viewer) writeLoop() {
	ticker := time.NewTicker(v.srv.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case b := <-v.out:
			_ = v.conn.SetWriteDeadline(time.Now().Add(v.srv.cfg.WriteWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				v.cancel()
				return
			}
		case <-ticker.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(v.srv.cfg.WriteWait)); err != nil {
				v.cancel()
				return
			}
		}
	}
}

// forward переводит обновления шины в cube_update. Медленный клиент теряет
// обновления, но не тормозит шину.
func (v *viewer) forward(sub broadcast.Subscription) {
	codec := v.srv.cfg.Service.Codec()
	for {
		select {
		case <-v.ctx.Done():
			return
		case cube, ok := <-sub.C():
			if !ok {
				v.cancel()
				return
			}
			if !v.replica.Apply(cube) {
				continue
			}
			data, err := v.srv.cfg.Serializer.Encode(protocol.NewCubeUpdate(codec, v.worldID, cube))
			if err != nil {
				continue
			}
			select {
			case v.out <- data:
			default:
				v.srv.dropped.Inc()
			}
		}
	}
}

func (v *viewer) readLoop() {
	pongWait := v.srv.cfg.PongWait
	v.conn.SetReadLimit(maxInboundFrameSize)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := v.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))

		if v.ctx.Err() != nil {
			return
		}
		v.handle(msg)
	}
}

func (v *viewer) handle(msg []byte) {
	ser := v.srv.cfg.Serializer
	codec := v.srv.cfg.Service.Codec()

	msgType, err := ser.Decode(msg)
	if err != nil {
		v.reply(protocol.ErrorMessage{Type: protocol.MsgError, Message: err.Error()})
		return
	}

	switch msgType {
	case protocol.MsgPlace:
		req, err := ser.DecodePlace(msg)
		if err != nil {
			v.reply(protocol.ErrorMessage{Type: protocol.MsgError, Message: err.Error()})
			return
		}
		res := v.srv.cfg.Service.AttemptPlacement(v.ctx, v.worldID, v.username, req.Position, req.Color)
		if res.Accepted() {
			// собственное эхо из шины уже не нужно
			v.replica.Apply(res.Cube)
		}
		v.reply(protocol.ResultMessage(codec, req.RequestID, v.srv.cfg.Service.Config().Window, res))

	case protocol.MsgSnapshotRequest:
		snap, err := v.srv.cfg.Service.Snapshot(v.ctx, v.worldID, 0)
		if err != nil {
			v.reply(protocol.ErrorMessage{Type: protocol.MsgError, Message: "snapshot unavailable, please try again"})
			return
		}
		v.replica.Seed(snap.Cubes)
		v.reply(protocol.NewWorldSnapshot(codec, snap, v.username))

	case protocol.MsgPing:
		v.reply(protocol.Pong{Type: protocol.MsgPong, Time: time.Now().UTC()})
	}
}

// reply ставит ответ в очередь, дожидаясь места: ответы на запросы не отбрасываются.
func (v *viewer) reply(msg interface{}) {
	data, err := v.srv.cfg.Serializer.Encode(msg)
	if err != nil {
		v.srv.logger.Error("Encode reply failed: %v", err)
		return
	}
	select {
	case v.out <- data:
	case <-v.ctx.Done():
	}
}
