package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// frame is the backend websocket envelope.
type frame struct {
	Type string        `json:"type"`
	Data *Notification `json:"data,omitempty"`
}

// Stream keeps a websocket open to the backend notification feed and
// delivers pushed notifications to the sink. It sends an application-level
// ping on a heartbeat, closes sockets that go silent, and reconnects a
// bounded number of times before reporting the connection lost. An auth
// rejection refreshes the token pair and dials again with the new token.
type Stream struct {
	url    string
	cred   upstream.Credential
	sink   func(Notification)
	onIdle func()
	logger *logging.Logger

	pingInterval time.Duration
	idleTimeout  time.Duration
	maxAttempts  int
	retryDelay   time.Duration

	dial func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error)
}

func NewStream(url string, cred upstream.Credential, sink func(Notification), logger *logging.Logger) *Stream {
	return &Stream{
		url:    url,
		cred:   cred,
		sink:   sink,
		logger: logger.Component("notify-stream"),

		pingInterval: 30 * time.Second,
		idleTimeout:  60 * time.Second,
		maxAttempts:  3,
		retryDelay:   3 * time.Second,

		dial: func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
			return websocket.DefaultDialer.DialContext(ctx, url, nil)
		},
	}
}

// WithIdleHandler sets a callback fired when the socket goes quiet for the
// idle window. The socket is closed afterwards and a reconnect follows.
func (s *Stream) WithIdleHandler(fn func()) *Stream {
	s.onIdle = fn
	return s
}

func (s *Stream) WithHeartbeat(ping, idle time.Duration) *Stream {
	if ping > 0 {
		s.pingInterval = ping
	}
	if idle > 0 {
		s.idleTimeout = idle
	}
	return s
}

func (s *Stream) WithRetry(attempts int, delay time.Duration) *Stream {
	if attempts > 0 {
		s.maxAttempts = attempts
	}
	if delay > 0 {
		s.retryDelay = delay
	}
	return s
}

var errIdle = errors.New("notification stream idle")

// Run maintains the connection until ctx is cancelled or the reconnect
// budget is exhausted. Each successfully established session resets the
// budget.
func (s *Stream) Run(ctx context.Context) error {
	attempts := 0
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempts = 0
		}

		var authErr *upstream.AuthError
		if errors.As(err, &authErr) {
			// The token went stale mid-stream. Refresh once and dial
			// with the new token; a failed refresh means the session
			// itself is gone and the stream stops.
			if _, rerr := s.cred.Refresh(ctx); rerr != nil {
				return rerr
			}
			s.logger.Info("stream token refreshed, reconnecting")
			continue
		}

		attempts++
		if attempts > s.maxAttempts {
			s.logger.Warn("notification stream gave up", "attempts", attempts-1, "error", err)
			return err
		}
		s.logger.Debug("notification stream reconnecting",
			"attempt", attempts, "delay", s.retryDelay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
}

// session runs one websocket connection to completion. The bool reports
// whether the dial succeeded, so the caller can reset its retry budget.
func (s *Stream) session(ctx context.Context) (bool, error) {
	token, err := s.cred.AccessToken(ctx)
	if err != nil {
		return false, err
	}

	conn, resp, err := s.dial(ctx, s.url+"?token="+token)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, &upstream.AuthError{Message: "websocket handshake rejected", Err: err}
		}
		return false, err
	}
	defer conn.Close()
	s.logger.Info("notification stream connected")

	frames := make(chan frame)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-readErr:
			if isPolicyViolation(err) {
				return true, &upstream.AuthError{Message: "websocket closed by server", Err: err}
			}
			return true, err
		case <-ping.C:
			if err := conn.WriteJSON(frame{Type: "ping"}); err != nil {
				return true, err
			}
		case <-idle.C:
			if s.onIdle != nil {
				s.onIdle()
			}
			return true, errIdle
		case f := <-frames:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idleTimeout)
			switch f.Type {
			case "pong":
				// heartbeat reply, nothing to deliver
			case "notification":
				if f.Data != nil && s.sink != nil {
					s.sink(*f.Data)
				}
			default:
				s.logger.Debug("unhandled stream frame", "type", f.Type)
			}
		}
	}
}

// isPolicyViolation reports whether the peer closed the socket for an
// auth reason. Django Channels rejects stale tokens with a 4403-style
// policy close.
func isPolicyViolation(err error) bool {
	return websocket.IsCloseError(err,
		websocket.ClosePolicyViolation, 4401, 4403)
}

// Encode renders a notification the way the portal pushes it to its own
// clients, reusing the backend envelope shape.
func Encode(n Notification) ([]byte, error) {
	return json.Marshal(frame{Type: "notification", Data: &n})
}
