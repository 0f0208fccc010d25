package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/skirmish-backend/internal/hub"
	"github.com/DoyleJ11/skirmish-backend/internal/session"
	"github.com/DoyleJ11/skirmish-backend/internal/types"
)

type Options struct {
	Logger         *zap.Logger
	OutboxSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	return o
}

// Handler upgrades GET /ws/rooms/{roomID} and bridges the socket to the
// room's session.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	opts = opts.withDefaults()

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			opts.Logger.Debug("websocket accept failed", zap.String("room_id", roomID), zap.Error(err))
			return
		}

		conn := newConn(uuid.NewString(), c, opts)
		log := opts.Logger.With(zap.String("room_id", roomID), zap.String("conn_id", conn.ID()))
		conn.log = log

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// The hub registers the connection itself so the room cannot be
		// evicted between lookup and connect.
		sess, err := h.Join(ctx, roomID, conn)
		if err != nil {
			log.Debug("join failed", zap.Error(err))
			_ = c.Close(websocket.StatusGoingAway, session.CloseReasonShutdown)
			return
		}
		log.Debug("connection opened")

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			conn.writeLoop(ctx)
		}()

		readLoop(ctx, conn, sess)

		conn.Close(session.CloseNormal, "")
		<-writerDone

		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), opts.WriteTimeout)
		defer leaveCancel()
		_ = sess.Post(leaveCtx, session.Disconnect{ConnID: conn.ID()})
		log.Debug("connection closed")
	}
}

func readLoop(ctx context.Context, conn *Conn, sess *session.Session) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				conn.log.Debug("read ended", zap.Error(err))
			}
			return
		}

		msg, err := types.DecodeClient(data)
		if err != nil {
			// Protocol violations are dropped without a reply.
			conn.log.Debug("dropped client frame", zap.Error(err))
			continue
		}

		if err := sess.Post(ctx, session.Inbound{ConnID: conn.ID(), Message: msg}); err != nil {
			return
		}
	}
}
