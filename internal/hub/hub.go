package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haphu2512-java/ZaloForEdu/internal/presence"
	"github.com/haphu2512-java/ZaloForEdu/internal/router"
	"github.com/haphu2512-java/ZaloForEdu/internal/websocket"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// DefaultQueueSize is the command queue capacity used when none is given.
const DefaultQueueSize = 1024

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdUnregister
	cmdEvent
)

type command struct {
	kind   commandKind
	conn   interfaces.Connection
	connID string
	env    *types.Envelope
	done   chan error
}

// Hub is the single dispatcher for the real-time core. One goroutine drains
// one FIFO command queue, so every registry mutation and event handler runs
// serially and events from one connection are handled in arrival order.
// Hub implements interfaces.Dispatcher.
type Hub struct {
	commands chan command
	shutdown chan struct{}
	stopped  chan struct{}

	registry *websocket.Registry
	router   *router.Router
	presence *presence.Publisher
	log      *slog.Logger

	running bool
	used    bool
	mu      sync.RWMutex
}

// NewHub wires the hub. queueSize <= 0 selects DefaultQueueSize.
func NewHub(registry *websocket.Registry, router *router.Router, presence *presence.Publisher, queueSize int, log *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		commands: make(chan command, queueSize),
		shutdown: make(chan struct{}),
		stopped:  make(chan struct{}),
		registry: registry,
		router:   router,
		presence: presence,
		log:      log.With(slog.String("component", "hub")),
	}
}

// Start launches the hub goroutine. It runs until Stop or ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	if h.used {
		return ErrHubStopped
	}
	h.running = true
	h.used = true

	h.log.Info("starting hub", slog.Int("queue_size", cap(h.commands)))

	go h.run(ctx)

	return nil
}

// Stop shuts the hub down, closes every live connection and waits for the
// hub goroutine to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	h.mu.Unlock()

	h.log.Info("stopping hub")
	<-h.stopped
	return nil
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Register queues conn and waits until the hub has applied it, so events
// dispatched afterwards always find the connection registered.
func (h *Hub) Register(conn interfaces.Connection) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}

	cmd := command{kind: cmdRegister, conn: conn, done: make(chan error, 1)}
	select {
	case h.commands <- cmd:
	case <-h.stopped:
		return ErrHubNotRunning
	}

	select {
	case err := <-cmd.done:
		return err
	case <-h.stopped:
		return ErrHubNotRunning
	}
}

// Unregister queues removal of connID. After the hub has stopped there is
// nothing left to remove and it returns nil.
func (h *Hub) Unregister(connID string) error {
	if !h.isRunning() {
		return nil
	}

	select {
	case h.commands <- command{kind: cmdUnregister, connID: connID}:
	case <-h.stopped:
	}
	return nil
}

// Dispatch queues an inbound event without blocking the caller's read loop.
func (h *Hub) Dispatch(connID string, env *types.Envelope) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}

	select {
	case h.commands <- command{kind: cmdEvent, connID: connID, env: env}:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// QueueDepth is the number of commands waiting for the hub goroutine.
func (h *Hub) QueueDepth() int {
	return len(h.commands)
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.stopped)
	defer h.closeAll()

	for {
		select {
		case cmd := <-h.commands:
			h.apply(cmd)

		case <-h.shutdown:
			h.log.Info("hub shutdown requested")
			return

		case <-ctx.Done():
			h.log.Info("hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// apply runs one command. A panicking handler is logged and does not take
// the hub down.
func (h *Hub) apply(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("hub command panicked", slog.Any("panic", r), slog.String("conn_id", cmd.connID))
			if cmd.done != nil {
				select {
				case cmd.done <- ErrHubNotRunning:
				default:
				}
			}
		}
	}()

	switch cmd.kind {
	case cmdRegister:
		h.handleRegistration(cmd)
	case cmdUnregister:
		h.handleDeregistration(cmd.connID)
	case cmdEvent:
		h.handleEvent(cmd.connID, cmd.env)
	}
}

func (h *Hub) handleRegistration(cmd command) {
	first, err := h.registry.Register(cmd.conn)
	cmd.done <- err
	if err != nil {
		h.log.Warn("connection registration failed", slog.Any("error", err))
		return
	}

	user := cmd.conn.User()
	h.log.Debug("connection registered",
		slog.String("conn_id", cmd.conn.ID()),
		slog.String("user_id", user.ID),
		slog.Bool("first_for_user", first),
	)

	if first && h.presence != nil {
		h.presence.Online(user)
	}
}

func (h *Hub) handleDeregistration(connID string) {
	entry, last := h.registry.Unregister(connID)
	if entry == nil {
		return
	}

	h.log.Debug("connection deregistered",
		slog.String("conn_id", connID),
		slog.String("user_id", entry.UserID),
		slog.Any("rooms", entry.Rooms()),
		slog.Bool("last_for_user", last),
	)

	if last && h.presence != nil {
		h.presence.Offline(entry.UserID)
	}
}

func (h *Hub) handleEvent(connID string, env *types.Envelope) {
	sender, ok := h.registry.GetConnection(connID)
	if !ok {
		h.log.Debug("dropping event from unregistered connection", slog.String("conn_id", connID), slog.String("event", env.Event))
		return
	}
	h.router.Route(sender, env)
}

// closeAll closes every live connection when the hub exits. Their read
// loops then end and their Unregister calls become no-ops.
func (h *Hub) closeAll() {
	for _, conn := range h.registry.AllConnections() {
		if err := conn.Close(); err != nil {
			h.log.Debug("failed to close connection", slog.String("conn_id", conn.ID()), slog.Any("error", err))
		}
	}
}
