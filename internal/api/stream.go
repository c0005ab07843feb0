package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/pkg/metrics"
)

const (
	// writeWait is the deadline for a single websocket write
	writeWait = 10 * time.Second
	// pingPeriod is the interval between server pings
	pingPeriod = 15 * time.Second
	// pongWait is how long to wait for the client's pong
	pongWait = 60 * time.Second
	// sendBuffer is the per-client backlog; a client that falls this far
	// behind is disconnected rather than allowed to block delivery
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamMessage is the wire shape of one status update
type streamMessage struct {
	OrderID   uuid.UUID       `json:"orderId"`
	Seq       int             `json:"seq"`
	Status    orders.Status   `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func newStreamMessage(ev orders.StatusEvent) streamMessage {
	return streamMessage{
		OrderID:   ev.OrderID,
		Seq:       ev.Seq,
		Status:    ev.Status,
		Payload:   json.RawMessage(ev.Payload),
		Timestamp: ev.CreatedAt,
	}
}

// handleStreamOrder handles GET /api/v1/orders/:orderID/stream. The full
// status history is delivered first (pending is always the first frame),
// then live updates until a terminal status closes the stream.
func (s *Server) handleStreamOrder(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}

	log := s.logger.Named("stream").With(zap.String("remote", conn.RemoteAddr().String()))
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	orderID, err := uuid.Parse(c.Param("orderID"))
	if err != nil {
		s.closeWithError(conn, uuid.Nil, "order id must be a uuid")
		return
	}
	log = log.With(zap.String("order_id", orderID.String()))

	events := make(chan orders.StatusEvent, sendBuffer)
	overflow := make(chan struct{})
	push := func(ev orders.StatusEvent) {
		select {
		case events <- ev:
		default:
			select {
			case <-overflow:
			default:
				close(overflow)
			}
		}
	}

	// Replay is delivered into the channel before the listener goes live,
	// so frame order matches event sequence.
	unsubscribe := s.bus.SubscribeWithReplay(orderID, push)
	defer unsubscribe()

	// The request context is unreliable once the connection is hijacked
	ctx := context.Background()

	ord, err := s.store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			s.closeWithError(conn, orderID, "order not found")
			return
		}
		log.Error("failed to load order for stream", zap.Error(err))
		s.closeWithError(conn, orderID, "internal error")
		return
	}

	// A terminal order may have had its replay buffer cleared already;
	// backfill from the store. The writer drops duplicate sequence numbers,
	// so overlap with replayed events is harmless.
	if ord.Status.IsTerminal() {
		history, err := s.store.History(ctx, orderID)
		if err != nil {
			log.Error("failed to load history for stream", zap.Error(err))
			s.closeWithError(conn, orderID, "internal error")
			return
		}
		for _, ev := range history {
			push(ev)
		}
	}

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, log, events, overflow, done)
}

// writePump serializes frames to the client. It owns all writes on conn,
// dedupes by sequence number, pings on an interval, and closes the stream
// once the terminal frame has been sent.
func (s *Server) writePump(conn *websocket.Conn, log *zap.Logger, events <-chan orders.StatusEvent, overflow, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	lastSeq := 0
	for {
		select {
		case ev := <-events:
			if ev.Seq <= lastSeq {
				continue
			}
			lastSeq = ev.Seq
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(newStreamMessage(ev)); err != nil {
				log.Debug("stream write failed", zap.Error(err))
				return
			}
			if ev.Status.IsTerminal() {
				s.sendClose(conn, websocket.CloseNormalClosure, "order reached terminal status")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			log.Warn("stream client too slow, disconnecting")
			s.sendClose(conn, websocket.CloseGoingAway, "client too slow")
			return
		case <-done:
			return
		}
	}
}

// readPump discards client frames and surfaces disconnects
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// closeWithError sends a single failed frame and closes the connection
func (s *Server) closeWithError(conn *websocket.Conn, orderID uuid.UUID, reason string) {
	defer conn.Close()
	payload, _ := json.Marshal(orders.FailedPayload{Error: reason})
	msg := streamMessage{
		OrderID:   orderID,
		Status:    orders.StatusFailed,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return
	}
	s.sendClose(conn, websocket.ClosePolicyViolation, reason)
}

func (s *Server) sendClose(conn *websocket.Conn, code int, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
