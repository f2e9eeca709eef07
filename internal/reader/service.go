// Package reader runs one drawing submission from open to close.
package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spherical/techread/internal/dispatch"
	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
	"github.com/spherical/techread/internal/preflight"
)

// Session is the part of session.Session the read loop needs.
type Session interface {
	ID() string
	Open(ctx context.Context) error
	Send(ctx context.Context, drawing []byte, asks []domain.AskDescriptor, model []byte) error
	Receive(ctx context.Context) (*domain.ResponseMessage, bool, error)
	Close() error
}

// SessionFactory creates a fresh, unopened session per submission.
type SessionFactory func() Session

// Service orchestrates submissions. Each Read owns its own session, so
// concurrent Reads never share a connection.
type Service struct {
	newSession SessionFactory
	dispatcher *dispatch.Dispatcher
	validator  *preflight.Validator
	logger     *observability.Logger

	mu     sync.Mutex
	closed bool
	active map[Session]struct{}
}

// NewService creates a read service. validator may be nil to skip preflight.
func NewService(newSession SessionFactory, dispatcher *dispatch.Dispatcher, validator *preflight.Validator, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{
		newSession: newSession,
		dispatcher: dispatcher,
		validator:  validator,
		logger:     logger.WithOperation("read"),
		active:     make(map[Session]struct{}),
	}
}

// Summary describes a finished submission.
type Summary struct {
	SessionID string
	Messages  int
	ByType    map[domain.MessageType]int
	Duration  time.Duration
}

// Read submits drawing and the asks of hooks, then dispatches every streamed
// message until the service ends the stream or an error occurs. The session
// is closed on every return path. eventCh may be nil.
func (s *Service) Read(ctx context.Context, drawing []byte, hooks []domain.Hook, model []byte, eventCh chan<- Event) (*Summary, error) {
	startTime := time.Now()

	if s.validator != nil {
		report, err := s.validator.Check(drawing, model)
		if err != nil {
			s.emitError(eventCh, err)
			return nil, err
		}
		s.logger.Debug().Str("format", string(report.Format)).Int("pages", report.Pages).Msg("Drawing accepted")
	}

	sess, err := s.acquire()
	if err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}
	defer s.release(sess)

	logger := s.logger.WithSession(sess.ID())
	summary := &Summary{SessionID: sess.ID(), ByType: make(map[domain.MessageType]int)}

	if err := sess.Open(ctx); err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}

	asks := make([]domain.AskDescriptor, 0, len(hooks))
	for _, h := range hooks {
		// progress-only hooks carry no ask
		if h.Ask.Type() == "" {
			continue
		}
		asks = append(asks, h.Ask)
	}

	if err := sess.Send(ctx, drawing, asks, model); err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}

	s.emitEvent(eventCh, Event{
		Type:      EventStart,
		Count:     len(asks),
		Payload:   fmt.Sprintf("Submitted drawing with %d asks", len(asks)),
		Timestamp: time.Now(),
	})
	logger.Info().Int("asks", len(asks)).Int("drawing_bytes", len(drawing)).Msg("Drawing submitted")

	for {
		msg, more, err := sess.Receive(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %w", err, ctxErr)
			}
			logger.Error().Err(err).Int("messages", summary.Messages).Msg("Stream failed")
			s.emitError(eventCh, err)
			return nil, err
		}
		if !more {
			break
		}

		summary.Messages++
		summary.ByType[msg.MessageType]++

		s.emitEvent(eventCh, Event{
			Type:        EventMessage,
			MessageType: msg.MessageType,
			Subtype:     msg.MessageSubtype,
			Count:       summary.Messages,
			Timestamp:   time.Now(),
		})

		if err := s.dispatcher.Dispatch(ctx, msg, hooks); err != nil {
			logger.Warn().
				Err(err).
				Str("type", string(msg.MessageType)).
				Str("subtype", msg.MessageSubtype).
				Msg("Stream terminated")
			s.emitError(eventCh, err)
			return nil, err
		}
	}

	summary.Duration = time.Since(startTime)
	s.emitEvent(eventCh, Event{
		Type:      EventComplete,
		Count:     summary.Messages,
		Payload:   fmt.Sprintf("Stream complete: %d messages in %v", summary.Messages, summary.Duration.Round(time.Millisecond)),
		Timestamp: time.Now(),
	})
	logger.Info().Int("messages", summary.Messages).Dur("duration", summary.Duration).Msg("Read complete")

	return summary, nil
}

// Close closes every in-flight session and refuses further reads. It is
// idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]Session, 0, len(s.active))
	for sess := range s.active {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) acquire() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.InvalidStateError("client is closed")
	}
	sess := s.newSession()
	s.active[sess] = struct{}{}
	return sess, nil
}

func (s *Service) release(sess Session) {
	if err := sess.Close(); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("Session close failed")
	}

	s.mu.Lock()
	delete(s.active, sess)
	s.mu.Unlock()
}

// emitEvent sends without blocking; a full channel drops the event.
func (s *Service) emitEvent(eventCh chan<- Event, event Event) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			s.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

func (s *Service) emitError(eventCh chan<- Event, err error) {
	s.emitEvent(eventCh, Event{
		Type:      EventError,
		Payload:   err.Error(),
		Err:       err,
		Timestamp: time.Now(),
	})
}
