package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/techread/internal/domain"
)

type recorder struct {
	calls []string
}

func (r *recorder) hook(name, askType string) domain.Hook {
	return domain.Hook{
		Ask: domain.NewAskDescriptor(askType, nil),
		Callback: func(_ context.Context, msg *domain.ResponseMessage) error {
			r.calls = append(r.calls, name+":"+msg.MessageSubtype)
			return nil
		},
	}
}

func (r *recorder) progressHook(name, subtype string) domain.Hook {
	h := r.hook(name, "Progress")
	h.MessageType = domain.MessageTypeProgress
	h.MessageSubtype = subtype
	return h
}

func askMsg(subtype string) *domain.ResponseMessage {
	return &domain.ResponseMessage{MessageType: domain.MessageTypeAsk, MessageSubtype: subtype}
}

func TestDispatch_AskMatchesExactlyOneHook(t *testing.T) {
	rec := &recorder{}
	var got *domain.ResponseMessage
	hooks := []domain.Hook{
		{
			Ask: domain.NewAskDescriptor("PageThumbnail", nil),
			Callback: func(_ context.Context, msg *domain.ResponseMessage) error {
				got = msg
				return nil
			},
		},
		rec.hook("other", "VariantCAD"),
	}

	msg := &domain.ResponseMessage{MessageType: domain.MessageTypeAsk, MessageSubtype: "PageThumbnail", Payload: []byte{0x01, 0x02}}
	require.NoError(t, New(nil).Dispatch(context.Background(), msg, hooks))

	assert.Same(t, msg, got)
	assert.Equal(t, []byte{0x01, 0x02}, got.Payload)
	assert.Empty(t, rec.calls)
}

func TestDispatch_NoMatchIsDroppedSilently(t *testing.T) {
	rec := &recorder{}
	hooks := []domain.Hook{rec.hook("a", "VariantCAD")}

	err := New(nil).Dispatch(context.Background(), askMsg("PageThumbnail"), hooks)
	require.NoError(t, err)
	assert.Empty(t, rec.calls)

	require.NoError(t, New(nil).Dispatch(context.Background(), askMsg("PageThumbnail"), nil))
}

func TestDispatch_RegistrationOrder(t *testing.T) {
	rec := &recorder{}
	hooks := []domain.Hook{
		rec.hook("first", "TitleBlock"),
		rec.hook("skip", "VariantCAD"),
		rec.hook("second", "TitleBlock"),
		rec.hook("third", "TitleBlock"),
	}

	require.NoError(t, New(nil).Dispatch(context.Background(), askMsg("TitleBlock"), hooks))
	assert.Equal(t, []string{"first:TitleBlock", "second:TitleBlock", "third:TitleBlock"}, rec.calls)
}

func TestDispatch_ErrorAndRejection(t *testing.T) {
	tests := []struct {
		name     string
		msgType  domain.MessageType
		wantType domain.ErrorType
	}{
		{"error message", domain.MessageTypeError, domain.ErrorTypeServer},
		{"rejection message", domain.MessageTypeRejection, domain.ErrorTypeRejection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			msg := &domain.ResponseMessage{
				MessageType:    tt.msgType,
				MessageSubtype: "PageThumbnail",
				Exceptions:     []domain.Exception{{Level: "ERROR", Type: "INTERNAL"}},
			}

			err := New(nil).Dispatch(context.Background(), msg, []domain.Hook{rec.hook("a", "PageThumbnail")})
			require.Error(t, err)
			assert.True(t, domain.IsType(err, tt.wantType), "got %v", err)
			assert.Empty(t, rec.calls, "hooks never see error classes")

			var de *domain.DomainError
			require.ErrorAs(t, err, &de)
			assert.Same(t, msg, de.Response)
		})
	}
}

func TestDispatch_ProgressRequiresOptIn(t *testing.T) {
	rec := &recorder{}
	plain := rec.hook("plain", "INITIALIZATION_SUCCESS")
	plain.MessageSubtype = "INITIALIZATION_SUCCESS" // subtype alone is not enough

	hooks := []domain.Hook{
		plain,
		rec.progressHook("init", "INITIALIZATION_SUCCESS"),
		rec.progressHook("done", "FINISHED"),
	}

	msg := &domain.ResponseMessage{MessageType: domain.MessageTypeProgress, MessageSubtype: "INITIALIZATION_SUCCESS"}
	require.NoError(t, New(nil).Dispatch(context.Background(), msg, hooks))
	assert.Equal(t, []string{"init:INITIALIZATION_SUCCESS"}, rec.calls)
}

func TestDispatch_ProgressHookIgnoresAsks(t *testing.T) {
	rec := &recorder{}
	h := rec.progressHook("p", "PageThumbnail")

	require.NoError(t, New(nil).Dispatch(context.Background(), askMsg("PageThumbnail"), []domain.Hook{h}))
	assert.Empty(t, rec.calls)
}

func TestDispatch_UnknownMessageType(t *testing.T) {
	rec := &recorder{}
	msg := &domain.ResponseMessage{MessageType: "HEARTBEAT", MessageSubtype: "PageThumbnail"}

	err := New(nil).Dispatch(context.Background(), msg, []domain.Hook{rec.hook("a", "PageThumbnail")})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeProtocol))
	assert.Contains(t, err.Error(), "unknown message type")
	assert.Empty(t, rec.calls)
}

func TestDispatch_CallbackErrorStopsRemainingHooks(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("disk full")
	hooks := []domain.Hook{
		rec.hook("first", "TitleBlock"),
		{
			Ask:      domain.NewAskDescriptor("TitleBlock", nil),
			Callback: func(context.Context, *domain.ResponseMessage) error { return boom },
		},
		rec.hook("never", "TitleBlock"),
	}

	err := New(nil).Dispatch(context.Background(), askMsg("TitleBlock"), hooks)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeHook))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first:TitleBlock"}, rec.calls)
}

func TestDispatch_NilCallbackIsSkipped(t *testing.T) {
	hooks := []domain.Hook{{Ask: domain.NewAskDescriptor("TitleBlock", nil)}}
	assert.NoError(t, New(nil).Dispatch(context.Background(), askMsg("TitleBlock"), hooks))
}
