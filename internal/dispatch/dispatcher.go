// Package dispatch routes streamed response messages to caller hooks.
package dispatch

import (
	"context"
	"fmt"

	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
)

// Dispatcher classifies one message at a time and invokes matching hooks.
// It holds no per-stream state and is safe for concurrent use.
type Dispatcher struct {
	logger *observability.Logger
}

// New creates a Dispatcher.
func New(logger *observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Dispatcher{logger: logger.WithOperation("dispatch")}
}

// Dispatch routes msg to hooks.
//
// ERROR and REJECTION messages are returned as ServerError and
// RequestRejected. ASK messages go to every hook whose ask type equals the
// subtype. PROGRESS messages go only to hooks that opted in with
// MessageType == PROGRESS and the same subtype. Matching hooks are invoked in
// slice order and each callback returns before the next one starts. The first
// callback failure is returned as a HookError and later hooks are not called.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.ResponseMessage, hooks []domain.Hook) error {
	if msg == nil {
		return domain.ProtocolError("nil message", nil)
	}
	if !msg.MessageType.Known() {
		return domain.ProtocolError("unknown message type",
			fmt.Errorf("message_type %q", msg.MessageType))
	}

	logger := d.logger.WithMessage(string(msg.MessageType), msg.MessageSubtype)

	switch msg.MessageType {
	case domain.MessageTypeError:
		logger.Warn().Int("exceptions", len(msg.Exceptions)).Msg("Server reported an error")
		return domain.ServerError(msg)
	case domain.MessageTypeRejection:
		logger.Warn().Int("exceptions", len(msg.Exceptions)).Msg("Server rejected the request")
		return domain.RequestRejected(msg)
	case domain.MessageTypeProgress:
		return invoke(ctx, logger, msg, hooks, progressMatch)
	default:
		return invoke(ctx, logger, msg, hooks, askMatch)
	}
}

type matcher func(h domain.Hook, msg *domain.ResponseMessage) bool

func askMatch(h domain.Hook, msg *domain.ResponseMessage) bool {
	return h.Ask.Type() == msg.MessageSubtype
}

// progressMatch requires an explicit opt-in. A hook without
// MessageType == PROGRESS never sees progress, whatever its subtype.
func progressMatch(h domain.Hook, msg *domain.ResponseMessage) bool {
	return h.MessageType == domain.MessageTypeProgress && h.MessageSubtype == msg.MessageSubtype
}

func invoke(ctx context.Context, logger *observability.Logger, msg *domain.ResponseMessage, hooks []domain.Hook, match matcher) error {
	matched := 0
	for i, h := range hooks {
		if !match(h, msg) {
			continue
		}
		matched++
		if h.Callback == nil {
			continue
		}
		if err := h.Callback(ctx, msg); err != nil {
			logger.Error().Err(err).Int("hook", i).Msg("Hook callback failed")
			return &domain.DomainError{
				Type:     domain.ErrorTypeHook,
				Message:  fmt.Sprintf("hook %d callback failed", i),
				Err:      err,
				Response: msg,
			}
		}
	}

	if matched == 0 {
		logger.Debug().Msg("No hook matched, message dropped")
	}
	return nil
}
