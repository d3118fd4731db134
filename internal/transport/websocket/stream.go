// Package websocket pushes the current attendance code to gym displays and
// replaces it each time the code rotates.
package websocket

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaif394/Gymble0/internal/api"
	"github.com/kaif394/Gymble0/internal/auth"
	"github.com/kaif394/Gymble0/internal/domain"
	"github.com/kaif394/Gymble0/internal/observability"
	"github.com/kaif394/Gymble0/internal/qrtoken"
	httptransport "github.com/kaif394/Gymble0/internal/transport/http"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
)

// CodeSource issues the code a display should show right now.
type CodeSource interface {
	IssueCode(ctx context.Context, actor domain.Actor) (qrtoken.Code, error)
}

// Message is one frame sent to a display.
type Message struct {
	Type        string     `json:"type"`
	QRCodeData  string     `json:"qr_code_data,omitempty"`
	QRCodeImage string     `json:"qr_code_image,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// Option customises a CodeStream.
type Option func(*CodeStream)

// WithLogger overrides the stream logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *CodeStream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(s *CodeStream) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithClock injects the time source used to schedule rotations.
func WithClock(now func() time.Time) Option {
	return func(s *CodeStream) {
		if now != nil {
			s.now = now
		}
	}
}

// CodeStream serves the display websocket.
type CodeStream struct {
	codes        CodeSource
	upgrader     websocket.Upgrader
	logger       *log.Logger
	pingInterval time.Duration
	now          func() time.Time
}

// NewCodeStream builds a stream. allowedOrigins is a comma separated list;
// empty or "*" accepts any origin.
func NewCodeStream(codes CodeSource, allowedOrigins string, opts ...Option) *CodeStream {
	s := &CodeStream{
		codes:        codes,
		logger:       log.New(log.Writer(), "[display] ", log.LstdFlags|log.Lshortfile),
		pingInterval: defaultPingInterval,
		now:          time.Now,
	}
	origins := splitOrigins(allowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(origins, r.Header.Get("Origin"))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP authorizes the caller, upgrades the connection and streams codes
// until the client goes away or the request context ends.
func (s *CodeStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	// Issue before upgrading so role and gym errors surface as HTTP statuses.
	code, err := s.codes.IssueCode(r.Context(), actor)
	if err != nil {
		api.WriteServiceError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed (gym=%s): %v", actor.GymID, err)
		return
	}
	defer conn.Close()

	done := observability.DisplayConnected()
	defer done()
	s.logger.Printf("display connected (gym=%s, user=%s)", actor.GymID, actor.UserID)

	s.stream(r.Context(), conn, actor, code)
	s.logger.Printf("display disconnected (gym=%s, user=%s)", actor.GymID, actor.UserID)
}

func (s *CodeStream) stream(ctx context.Context, conn *websocket.Conn, actor domain.Actor, code qrtoken.Code) {
	readDeadline := 2 * s.pingInterval
	_ = conn.SetReadDeadline(s.now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(s.now().Add(readDeadline))
	})

	// Displays only listen; the read loop exists to process control frames
	// and notice when the peer disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := s.write(conn, codeMessage(code)); err != nil {
		return
	}

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	rotate := time.NewTimer(s.untilRotation(code))
	defer rotate.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, s.now().Add(writeTimeout)); err != nil {
				return
			}
		case <-rotate.C:
			next, err := s.codes.IssueCode(ctx, actor)
			if err != nil {
				s.logger.Printf("code rotation failed (gym=%s): %v", actor.GymID, err)
				_ = s.write(conn, Message{Type: "error", Detail: "unable to issue attendance code"})
				s.closeWith(conn, websocket.CloseInternalServerErr, "code rotation failed")
				return
			}
			if err := s.write(conn, codeMessage(next)); err != nil {
				return
			}
			code = next
			rotate.Reset(s.untilRotation(code))
		}
	}
}

func (s *CodeStream) untilRotation(code qrtoken.Code) time.Duration {
	d := code.ExpiresAt.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

func (s *CodeStream) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(s.now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Printf("write failed: %v", err)
		return err
	}
	return nil
}

func (s *CodeStream) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), s.now().Add(writeTimeout))
}

func codeMessage(code qrtoken.Code) Message {
	expires := code.ExpiresAt
	return Message{
		Type:        "code",
		QRCodeData:  code.Value,
		QRCodeImage: code.Image,
		ExpiresAt:   &expires,
	}
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, strings.TrimRight(trimmed, "/"))
		}
	}
	return out
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}
