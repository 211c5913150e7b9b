package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

var (
	ErrSessionClosed = errs.New("connection closed", http.StatusServiceUnavailable)
	errSendQueueFull = errs.New("send queue full", http.StatusServiceUnavailable)
)

// Session is one live connection. The read loop owns the router state; the write loop owns
// every write to the socket.
type Session struct {
	id       string
	conn     *websocket.Conn
	router   *Router
	presence *Presence

	send      chan Event
	closed    chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	mu    sync.Mutex
	state State
}

// NewSession wraps an upgraded connection authenticated as authUserID. Cancelling parent
// closes the session.
func NewSession(parent context.Context, conn *websocket.Conn, authUserID string, router *Router, presence *Presence) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		router:   router,
		presence: presence,
		send:     make(chan Event, sendQueueSize),
		closed:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		state: State{
			ConnID:     id,
			AuthUserID: authUserID,
			Phase:      PhaseConnecting,
		},
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send queues event for the write loop. It never blocks; a full queue is a delivery failure.
func (s *Session) Send(event Event) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- event:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		return errSendQueueFull
	}
}

// Close unregisters the session and stops both loops. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Phase = PhaseClosed
		s.mu.Unlock()

		close(s.closed)
		s.cancel()
		s.presence.Unregister(s)
		metrics.RecordConnectionClosed()
	})
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) Start() {
	metrics.RecordConnectionOpened()
	go s.writePump()
	go s.readPump()
}

func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	s.conn.SetPongHandler(func(string) error {
		s.presence.Touch(s)
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn_id", s.id).Msg("unexpected websocket close error")
			}
			return
		}
		s.presence.Touch(s)

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			s.router.Deliver(s.ctx, s, []Outbound{errorReply(errs.NewValidationError("malformed frame"), "")})
			continue
		}
		s.handle(in)
	}
}

func (s *Session) handle(in Inbound) {
	current := s.State()
	next, outs := s.router.Handle(s.ctx, current, in)

	if current.Phase != PhaseJoined && next.Phase == PhaseJoined {
		if !s.presence.Register(next.UserID, s) {
			s.Close()
			return
		}
		select {
		case <-s.closed:
			// closed while registering
			s.presence.Unregister(s)
			return
		default:
		}
		log.Debug().Str("conn_id", s.id).Str("user_id", next.UserID).Msg("session joined")
	}

	s.mu.Lock()
	if s.state.Phase != PhaseClosed {
		s.state = next
	}
	s.mu.Unlock()

	s.router.Deliver(s.ctx, s, outs)
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		s.Close()
	}()

	for {
		select {
		case event := <-s.send:
			data, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Str("event", event.Type).Msg("failed to encode event")
				continue
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn_id", s.id).Msg("failed to write event")
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
