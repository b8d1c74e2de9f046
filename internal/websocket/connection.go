package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// ConnectionOptions tune the per-connection buffers and heartbeat.
type ConnectionOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultConnectionOptions returns the production defaults. PingInterval must
// stay below ReadTimeout or idle clients are dropped between pings.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		SendBuffer:     100,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 128 * 1024,
	}
}

// Connection implements interfaces.Connection over a gorilla socket.
// All socket writes happen on a single writer goroutine.
type Connection struct {
	id        string
	user      types.UserSummary
	conn      *websocket.Conn
	writeCh   chan []byte
	opts      ConnectionOptions
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket for an authenticated user and starts
// its writer.
func NewConnection(conn *websocket.Conn, user types.UserSummary, opts ConnectionOptions, log *slog.Logger) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultConnectionOptions().SendBuffer
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Connection{
		id:      id,
		user:    user,
		conn:    conn,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		log:     log.With(slog.String("conn_id", id), slog.String("user_id", user.ID)),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) ID() string              { return c.id }
func (c *Connection) User() types.UserSummary { return c.user }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// writeLoop owns every write to the socket, including pings. writeCh is never
// closed; the loop exits on cancellation.
func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case frame := <-c.writeCh:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", slog.Any("error", err))
				_ = c.Close()
				return
			}

		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", slog.Any("error", err))
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if c.opts.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(messageType, data)
}

// Send queues frame without blocking.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Frames still queued are
// dropped.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}
