// Package realtime relays canvas events between the viewers of a workspace
// and streams the workspace's physics state to them at a fixed cadence.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/synapse/internal/db"
	"github.com/thebtf/synapse/internal/physics"
	"github.com/thebtf/synapse/internal/worker/session"
	"github.com/thebtf/synapse/pkg/models"
)

// Defaults for the tick loop and per-connection queues.
const (
	DefaultTickInterval = 33 * time.Millisecond
	DefaultSendBuffer   = 256
	persistTimeout      = 5 * time.Second
)

// Limiter throttles high-frequency inbound events per connection.
type Limiter interface {
	Allow(key string) bool
	Forget(key string)
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithTickInterval sets the simulation cadence.
func WithTickInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.sendBuffer = n
		}
	}
}

// WithItemWriter persists positions set by item_moved.
func WithItemWriter(w db.ItemWriter) Option {
	return func(b *Broadcaster) { b.items = w }
}

// WithCursorLimiter throttles cursor_move per connection.
func WithCursorLimiter(l Limiter) Option {
	return func(b *Broadcaster) { b.limiter = l }
}

// WithMeter registers instruments on meter instead of the global provider.
func WithMeter(m metric.Meter) Option {
	return func(b *Broadcaster) { b.meter = m }
}

// WithAllowedOrigins restricts websocket upgrades to the given origins.
// An empty list accepts any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(b *Broadcaster) { b.origins = origins }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// Stats holds broadcaster counters.
type Stats struct {
	Connections int   `json:"connections"`
	Rooms       int   `json:"rooms"`
	Members     int   `json:"members"`
	Bodies      int   `json:"bodies"`
	Ticks       int64 `json:"ticks"`
	Relayed     int64 `json:"relayed"`
	Dropped     int64 `json:"dropped"`
	RateLimited int64 `json:"rate_limited"`
	TickPanics  int64 `json:"tick_panics"`
	Running     bool  `json:"running"`
}

// Broadcaster owns live connections, relays client events within rooms and
// runs the tick loop that steps each active room's engine.
type Broadcaster struct {
	rooms    *session.Manager
	physics  *physics.Registry
	items    db.ItemWriter
	limiter  Limiter
	meter    metric.Meter
	metrics  *metrics
	now      func() time.Time
	conns    map[string]Conn
	stopCh   chan struct{}
	doneCh   chan struct{}
	upgrader websocket.Upgrader
	log      zerolog.Logger
	origins  []string

	interval   time.Duration
	sendBuffer int

	ticks       atomic.Int64
	relayed     atomic.Int64
	dropped     atomic.Int64
	rateLimited atomic.Int64
	tickPanics  atomic.Int64

	stopOnce sync.Once
	connMu   sync.RWMutex
	mu       sync.Mutex
	started  bool
	running  bool
}

// NewBroadcaster creates a broadcaster over the given membership manager and
// engine registry.
func NewBroadcaster(rooms *session.Manager, registry *physics.Registry, log zerolog.Logger, opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		rooms:      rooms,
		physics:    registry,
		now:        time.Now,
		conns:      make(map[string]Conn),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		log:        log.With().Str("component", "realtime").Logger(),
		interval:   DefaultTickInterval,
		sendBuffer: DefaultSendBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}

	m, err := newMetrics(b.meter)
	if err != nil {
		return nil, fmt.Errorf("register realtime metrics: %w", err)
	}
	b.metrics = m

	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     b.checkOrigin,
	}
	return b, nil
}

func (b *Broadcaster) checkOrigin(r *http.Request) bool {
	if len(b.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(b.origins, origin)
}

// Register adds a live connection and greets it with its id.
func (b *Broadcaster) Register(c Conn) {
	b.connMu.Lock()
	b.conns[c.ID()] = c
	total := len(b.conns)
	b.connMu.Unlock()

	b.metrics.connections.Add(context.Background(), 1)
	b.log.Debug().
		Str("connectionId", c.ID()).
		Int("totalConnections", total).
		Msg("Realtime client connected")

	b.emit(c.ID(), EventConnected, ConnectedPayload{ConnectionID: c.ID()})
}

// Unregister removes a connection, leaves its room and tells the remaining
// members.
func (b *Broadcaster) Unregister(connID string) {
	b.connMu.Lock()
	c, ok := b.conns[connID]
	delete(b.conns, connID)
	total := len(b.conns)
	b.connMu.Unlock()
	if !ok {
		return
	}

	c.Close()
	b.metrics.connections.Add(context.Background(), -1)
	if b.limiter != nil {
		b.limiter.Forget(connID)
	}

	if ws := b.rooms.Disconnect(connID); ws != "" {
		b.broadcast(ws, connID, EventUserLeft, PresencePayload{ConnectionID: connID, Timestamp: b.now()})
	}

	b.log.Debug().
		Str("connectionId", connID).
		Int("totalConnections", total).
		Msg("Realtime client disconnected")
}

// ConnectionCount returns the number of registered connections.
func (b *Broadcaster) ConnectionCount() int {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return len(b.conns)
}

// HandleMessage processes one inbound frame from connID.
func (b *Broadcaster) HandleMessage(connID string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		b.sendError(connID, "", "malformed message")
		return
	}

	switch env.Type {
	case EventJoinWorkspace:
		b.handleJoin(connID, env.Data)
	case EventLeaveWorkspace:
		b.handleLeave(connID, env.Data)
	case EventItemCreated, EventItemUpdated, EventItemDeleted:
		b.relay(connID, env.Type, env.Data)
	case EventItemMoved:
		b.handleMove(connID, env.Data)
	case EventCursorMove:
		if b.limiter != nil && !b.limiter.Allow(connID) {
			b.rateLimited.Add(1)
			return
		}
		b.relay(connID, env.Type, env.Data)
	case EventRequestNeighbors:
		b.handleNeighbors(connID, env.Data)
	default:
		b.sendError(connID, env.Type, "unknown event type")
	}
}

func (b *Broadcaster) handleJoin(connID string, data json.RawMessage) {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.WorkspaceID == "" {
		b.sendError(connID, EventJoinWorkspace, "workspace_id required")
		return
	}
	if err := models.ValidateWorkspaceID(req.WorkspaceID); err != nil {
		b.sendError(connID, EventJoinWorkspace, err.Error())
		return
	}
	if req.UserName == "" {
		req.UserName = "Anonymous"
	}

	res := b.rooms.Join(connID, req.WorkspaceID, req.UserName)
	if res.Previous != "" {
		b.broadcast(res.Previous, connID, EventUserLeft, PresencePayload{ConnectionID: connID, Timestamp: b.now()})
	}
	b.physics.For(req.WorkspaceID)

	b.emit(connID, EventJoined, JoinedPayload{WorkspaceID: req.WorkspaceID, OtherMembers: res.Others})
	b.broadcast(req.WorkspaceID, connID, EventUserJoined, PresencePayload{
		ConnectionID: connID,
		DisplayName:  req.UserName,
		Timestamp:    b.now(),
	})
}

func (b *Broadcaster) handleLeave(connID string, data json.RawMessage) {
	var req leaveRequest
	if err := json.Unmarshal(data, &req); err != nil || req.WorkspaceID == "" {
		b.sendError(connID, EventLeaveWorkspace, "workspace_id required")
		return
	}
	if b.rooms.Leave(connID, req.WorkspaceID) {
		b.broadcast(req.WorkspaceID, connID, EventUserLeft, PresencePayload{ConnectionID: connID, Timestamp: b.now()})
	}
	b.emit(connID, EventLeft, LeftPayload{WorkspaceID: req.WorkspaceID})
}

func (b *Broadcaster) handleMove(connID string, data json.RawMessage) {
	var req moveRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ItemID == "" || req.X == nil || req.Y == nil {
		b.sendError(connID, EventItemMoved, "item_id, x and y required")
		return
	}
	ws, ok := b.rooms.RoomOf(connID)
	if !ok {
		return
	}

	engine, ok := b.physics.Lookup(ws)
	if !ok || !engine.Reposition(req.ItemID, *req.X, *req.Y) {
		b.log.Debug().Str("workspaceId", ws).Str("itemId", req.ItemID).Msg("Ignoring move of item outside workspace")
		b.sendError(connID, EventItemMoved, "item not found in workspace")
		return
	}
	if b.items != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := b.items.UpdateItemPosition(ctx, req.ItemID, *req.X, *req.Y); err != nil {
			b.log.Warn().Err(err).Str("itemId", req.ItemID).Msg("Failed to persist moved item position")
		}
		cancel()
	}

	b.relay(connID, EventItemMoved, data)
}

func (b *Broadcaster) handleNeighbors(connID string, data json.RawMessage) {
	var req neighborsRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ItemID == "" {
		b.sendError(connID, EventRequestNeighbors, "item_id required")
		return
	}
	ws, ok := b.rooms.RoomOf(connID)
	if !ok {
		b.sendError(connID, EventRequestNeighbors, "join a workspace first")
		return
	}

	maxDistance := physics.DefaultNeighborDistance
	if req.MaxDistance != nil {
		maxDistance = *req.MaxDistance
	}
	minSimilarity := physics.DefaultNeighborSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}

	neighbors := []physics.Neighbor{}
	if engine, ok := b.physics.Lookup(ws); ok {
		if found := engine.Neighbors(req.ItemID, maxDistance, minSimilarity); found != nil {
			neighbors = found
		}
	}
	b.emit(connID, EventNeighbors, NeighborsPayload{ItemID: req.ItemID, Neighbors: neighbors})
}

// relay forwards a client event to the other members of the sender's room.
// Events from connections outside any room are ignored.
func (b *Broadcaster) relay(connID, event string, data json.RawMessage) {
	member, ok := b.rooms.Member(connID)
	if !ok {
		return
	}
	ws, ok := b.rooms.RoomOf(connID)
	if !ok {
		return
	}

	var ref itemRef
	if err := json.Unmarshal(data, &ref); err != nil {
		b.log.Debug().Err(err).Str("event", event).Msg("Relaying event without item id")
	}

	b.broadcast(ws, connID, event, PointEvent{
		ItemID:             ref.ItemID,
		Payload:            data,
		ActingConnectionID: connID,
		DisplayName:        member.DisplayName,
		Timestamp:          b.now(),
	})
	b.relayed.Add(1)
	b.metrics.recordRelay(context.Background(), event)
}

// BroadcastToWorkspace sends an event to every member of a workspace.
func (b *Broadcaster) BroadcastToWorkspace(workspaceID, event string, data any) {
	b.broadcast(workspaceID, "", event, data)
}

func (b *Broadcaster) broadcast(workspaceID, except, event string, data any) {
	ids := b.rooms.MemberIDs(workspaceID, except)
	if len(ids) == 0 {
		return
	}
	msg, err := encode(event, data)
	if err != nil {
		b.log.Error().Err(err).Str("event", event).Msg("Failed to encode realtime message")
		return
	}
	for _, id := range ids {
		b.deliver(id, msg)
	}
}

func (b *Broadcaster) emit(connID, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		b.log.Error().Err(err).Str("event", event).Msg("Failed to encode realtime message")
		return
	}
	b.deliver(connID, msg)
}

func (b *Broadcaster) sendError(connID, event, message string) {
	b.emit(connID, EventError, ErrorPayload{Event: event, Message: message})
}

// deliver queues msg on one connection without blocking.
func (b *Broadcaster) deliver(connID string, msg []byte) {
	b.connMu.RLock()
	c, ok := b.conns[connID]
	b.connMu.RUnlock()
	if !ok {
		return
	}
	if !c.Send(msg) {
		b.dropped.Add(1)
		b.metrics.dropped.Add(context.Background(), 1)
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called. It
// blocks; callers run it in a goroutine. A broadcaster runs at most once.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	if b.started {
		b.mu.Unlock()
		return
	}
	select {
	case <-b.stopCh:
		b.mu.Unlock()
		return
	default:
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		close(b.doneCh)
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.log.Info().Dur("interval", b.interval).Msg("Tick loop started")

	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Tick loop shutting down due to context cancellation")
			return
		case <-b.stopCh:
			b.log.Info().Msg("Tick loop stopping")
			return
		case <-ticker.C:
			select {
			case <-b.stopCh:
				return
			default:
			}
			b.Tick(ctx)
		}
	}
}

// Stop halts the tick loop and waits for the current tick to finish. No tick
// starts after Stop returns.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
	if running {
		<-b.doneCh
	}
}

// Running reports whether the tick loop is active.
func (b *Broadcaster) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Tick steps every active room's engine once and fans out its updates.
func (b *Broadcaster) Tick(ctx context.Context) {
	start := time.Now()
	rooms := b.rooms.ActiveRooms()
	for _, ws := range rooms {
		b.tickRoom(ws)
	}
	b.ticks.Add(1)
	b.metrics.recordTick(ctx, len(rooms), time.Since(start))
}

// tickRoom advances one workspace and sends its physics_update, recovering
// from a panic so one bad room cannot stop the loop.
func (b *Broadcaster) tickRoom(workspaceID string) {
	defer func() {
		if r := recover(); r != nil {
			b.tickPanics.Add(1)
			b.metrics.tickPanics.Add(context.Background(), 1)
			b.log.Error().
				Str("workspaceId", workspaceID).
				Interface("panic", r).
				Msg("Recovered panic while stepping workspace")
		}
	}()

	updates := b.physics.For(workspaceID).Step()
	b.broadcast(workspaceID, "", EventPhysicsUpdate, PhysicsUpdatePayload{Updates: updates, Timestamp: b.now()})
}

// Stats returns broadcaster counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Connections: b.ConnectionCount(),
		Rooms:       b.rooms.RoomCount(),
		Members:     b.rooms.MemberCount(),
		Bodies:      b.physics.Len(),
		Ticks:       b.ticks.Load(),
		Relayed:     b.relayed.Load(),
		Dropped:     b.dropped.Load(),
		RateLimited: b.rateLimited.Load(),
		TickPanics:  b.tickPanics.Load(),
		Running:     b.Running(),
	}
}

// ServeWS upgrades the request to a websocket and serves it until the peer
// goes away.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := newWSConn(uuid.NewString(), ws, b.sendBuffer, b.log)
	b.Register(c)
	go c.writePump()
	c.readPump(b.HandleMessage)
	b.Unregister(c.ID())
}
