// Package session implements the authenticated, stateful channel used for one
// drawing submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateOpen
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateOpen:
		return "OPEN"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session owns one connection and the credentials it was opened with.
//
// Valid transitions:
//
//	UNINITIALIZED --Open--> OPEN --Send--> STREAMING --Receive...
//	any --Close--> CLOSED
//
// Open, Send and Receive are meant for a single goroutine; Close may be
// called from anywhere, at any time, any number of times.
type Session struct {
	id      string
	auth    domain.Authenticator
	dialer  domain.Dialer
	fetcher domain.PayloadFetcher
	logger  *observability.Logger

	mu        sync.Mutex
	state     State
	opening   bool
	ended     bool
	requestID string
	creds     *domain.Credentials
	channel   domain.Channel

	closeOnce sync.Once
	closeErr  error
}

// New creates an unopened session. Nothing touches the network until Open.
// fetcher may be nil, in which case payload URLs are passed through untouched.
func New(auth domain.Authenticator, dialer domain.Dialer, fetcher domain.PayloadFetcher, logger *observability.Logger) *Session {
	if logger == nil {
		logger = observability.Nop()
	}
	id := uuid.NewString()

	return &Session{
		id:      id,
		auth:    auth,
		dialer:  dialer,
		fetcher: fetcher,
		logger:  logger.WithSession(id),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the identity the session authenticated as, or "" before Open.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.Username
}

// RequestID returns the identifier of the submission sent on this session.
func (s *Session) RequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// Open authenticates and connects.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized || s.opening {
		state := s.state
		s.mu.Unlock()
		return domain.InvalidStateError(fmt.Sprintf("open called in state %s", state))
	}
	s.opening = true
	s.mu.Unlock()

	ch, creds, err := s.connect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false

	if err != nil {
		return err
	}
	if s.state == StateClosed {
		_ = ch.Close()
		return domain.InvalidStateError("session closed while opening")
	}

	s.creds = creds
	s.channel = ch
	s.state = StateOpen
	s.logger.Debug().Str("username", creds.Username).Msg("Session open")
	return nil
}

func (s *Session) connect(ctx context.Context) (domain.Channel, *domain.Credentials, error) {
	creds, err := s.auth.Authenticate(ctx)
	if err != nil {
		return nil, nil, err
	}

	ch, err := s.dialer.Dial(ctx, creds.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	return ch, creds, nil
}

// Send submits the drawing, the optional model and the ordered asks.
func (s *Session) Send(ctx context.Context, drawing []byte, asks []domain.AskDescriptor, model []byte) error {
	s.mu.Lock()
	if s.state != StateOpen {
		state := s.state
		s.mu.Unlock()
		return domain.InvalidStateError(fmt.Sprintf("send called in state %s", state))
	}
	ch := s.channel
	s.mu.Unlock()

	if len(drawing) == 0 {
		return domain.TransmissionError("drawing is empty", nil)
	}

	req := &domain.Request{
		RequestID: uuid.NewString(),
		Drawing:   drawing,
		Model:     model,
		Asks:      append([]domain.AskDescriptor(nil), asks...),
	}

	if err := ch.Send(ctx, req); err != nil {
		var de *domain.DomainError
		if !errors.As(err, &de) {
			err = domain.TransmissionError("send request", err)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return domain.InvalidStateError("session closed while sending")
	}
	s.state = StateStreaming
	s.requestID = req.RequestID

	s.logger.WithRequest(req.RequestID).Debug().
		Int("asks", len(req.Asks)).
		Int("drawing_bytes", len(drawing)).
		Bool("with_model", model != nil).
		Msg("Request sent")
	return nil
}

// Receive blocks until the next message is available. It returns
// (nil, false, nil) once the service has ended the stream normally; any
// abnormal termination is returned as an error.
func (s *Session) Receive(ctx context.Context) (*domain.ResponseMessage, bool, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		state := s.state
		s.mu.Unlock()
		return nil, false, domain.InvalidStateError(fmt.Sprintf("receive called in state %s", state))
	}
	if s.ended {
		s.mu.Unlock()
		return nil, false, nil
	}
	ch := s.channel
	token := s.creds.AccessToken
	s.mu.Unlock()

	msg, more, err := ch.Receive(ctx)
	if err != nil {
		if s.State() == StateClosed {
			return nil, false, domain.InvalidStateError("session closed while receiving")
		}
		var de *domain.DomainError
		if !errors.As(err, &de) {
			err = domain.StreamError("receive", err)
		}
		return nil, false, err
	}

	if !more {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		s.logger.Debug().Msg("End of stream")
		return nil, false, nil
	}

	if msg.Payload == nil && msg.PayloadURL != "" && s.fetcher != nil {
		payload, err := s.fetcher.Fetch(ctx, msg.PayloadURL, token)
		if err != nil {
			return nil, false, domain.StreamError(fmt.Sprintf("download payload for %s", msg.MessageSubtype), err)
		}
		msg.Payload = payload
	}

	return msg, true, nil
}

// Close releases the connection and credentials exactly once. Unread
// messages are discarded.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		ch := s.channel
		prev := s.state
		s.channel = nil
		s.creds = nil
		s.state = StateClosed
		s.mu.Unlock()

		if ch != nil {
			s.closeErr = ch.Close()
		}
		s.logger.Debug().Str("from_state", prev.String()).Msg("Session closed")
	})
	return s.closeErr
}
