package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/skirmish-backend/internal/session"
	"github.com/DoyleJ11/skirmish-backend/internal/types"
)

const CloseReasonSlowConsumer = "SLOW_CONSUMER"

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("slow consumer")
)

// Conn adapts a websocket to session.Conn. Send only enqueues; a single
// writer goroutine owns the socket's write side.
type Conn struct {
	id           string
	ws           *websocket.Conn
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	closeCode    session.CloseCode
	closeReason  string
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *zap.Logger
}

func newConn(id string, c *websocket.Conn, opts Options) *Conn {
	return &Conn{
		id:           id,
		ws:           c,
		out:          make(chan []byte, opts.OutboxSize),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		log:          opts.Logger,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(msg types.ServerMessage) error {
	payload, err := types.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- payload:
		return nil
	default:
		c.Close(session.ClosePolicyViolation, CloseReasonSlowConsumer)
		return ErrSlowConsumer
	}
}

// Close asks the writer to flush what is queued and close the socket. Only
// the first call decides the close status.
func (c *Conn) Close(code session.CloseCode, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.done)
	})
	return nil
}

func (c *Conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.done:
			c.flush(ctx)
			if err := c.ws.Close(websocket.StatusCode(c.closeCode), c.closeReason); err != nil {
				c.log.Debug("close handshake", zap.Error(err))
			}
			return

		case payload := <-c.out:
			if err := c.write(ctx, payload); err != nil {
				c.log.Warn("write failed", zap.Error(err))
				c.Close(session.CloseNormal, "")
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				c.Close(session.CloseGoingAway, "")
			}
		}
	}
}

// flush writes whatever is still queued, so a REJECT sent just before a
// close reaches the client.
func (c *Conn) flush(ctx context.Context) {
	for {
		select {
		case payload := <-c.out:
			if err := c.write(ctx, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(ctx context.Context, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, payload)
}
