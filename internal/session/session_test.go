package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/techread/internal/domain"
)

type fakeAuth struct {
	calls atomic.Int32
	err   error
}

func (a *fakeAuth) Authenticate(context.Context) (*domain.Credentials, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return &domain.Credentials{AccessToken: "tok", Username: "tester"}, nil
}

type fakeChannel struct {
	sent     []*domain.Request
	sendErr  error
	messages []*domain.ResponseMessage
	endErr   error
	closes   atomic.Int32
}

func (c *fakeChannel) Send(_ context.Context, req *domain.Request) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, req)
	return nil
}

func (c *fakeChannel) Receive(context.Context) (*domain.ResponseMessage, bool, error) {
	if len(c.messages) == 0 {
		if c.endErr != nil {
			return nil, false, c.endErr
		}
		return nil, false, nil
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	return msg, true, nil
}

func (c *fakeChannel) Close() error {
	c.closes.Add(1)
	return nil
}

type fakeDialer struct {
	ch    *fakeChannel
	token string
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, token string) (domain.Channel, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.token = token
	return d.ch, nil
}

type fakeFetcher struct {
	url, token string
	data       []byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url, token string) ([]byte, error) {
	f.url, f.token = url, token
	return f.data, nil
}

func newTestSession(ch *fakeChannel) (*Session, *fakeAuth, *fakeDialer) {
	auth := &fakeAuth{}
	dialer := &fakeDialer{ch: ch}
	return New(auth, dialer, nil, nil), auth, dialer
}

func TestSession_HappyPath(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{messages: []*domain.ResponseMessage{
		{MessageType: domain.MessageTypeAsk, MessageSubtype: "PageThumbnail", Payload: []byte{1, 2}},
	}}
	s, auth, dialer := newTestSession(ch)

	assert.Equal(t, StateUninitialized, s.State())
	assert.Zero(t, auth.calls.Load(), "construction must not authenticate")

	require.NoError(t, s.Open(ctx))
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, "tok", dialer.token)
	assert.Equal(t, "tester", s.Username())

	asks := []domain.AskDescriptor{
		domain.NewAskDescriptor("PageThumbnail", nil),
		domain.NewAskDescriptor("VariantCAD", map[string]any{"is_training": true}),
	}
	require.NoError(t, s.Send(ctx, []byte("drawing"), asks, nil))
	assert.Equal(t, StateStreaming, s.State())
	require.Len(t, ch.sent, 1)
	assert.NotEmpty(t, ch.sent[0].RequestID)
	assert.Equal(t, ch.sent[0].RequestID, s.RequestID())
	assert.Equal(t, "VariantCAD", ch.sent[0].Asks[1].Type())

	msg, more, err := s.Receive(ctx)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, []byte{1, 2}, msg.Payload)

	msg, more, err = s.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Nil(t, msg)

	// end of stream is sticky
	_, more, err = s.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, more)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int32(1), ch.closes.Load())
	assert.Empty(t, s.Username(), "credentials are released on close")
}

func TestSession_InvalidStateTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("send before open", func(t *testing.T) {
		s, _, _ := newTestSession(&fakeChannel{})
		err := s.Send(ctx, []byte("d"), nil, nil)
		assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidState))
	})

	t.Run("receive before send", func(t *testing.T) {
		s, _, _ := newTestSession(&fakeChannel{})
		require.NoError(t, s.Open(ctx))
		_, _, err := s.Receive(ctx)
		assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidState))
	})

	t.Run("open twice", func(t *testing.T) {
		s, _, _ := newTestSession(&fakeChannel{})
		require.NoError(t, s.Open(ctx))
		err := s.Open(ctx)
		assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidState))
	})

	t.Run("send twice", func(t *testing.T) {
		s, _, _ := newTestSession(&fakeChannel{})
		require.NoError(t, s.Open(ctx))
		require.NoError(t, s.Send(ctx, []byte("d"), nil, nil))
		err := s.Send(ctx, []byte("d"), nil, nil)
		assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidState))
	})

	t.Run("anything after close", func(t *testing.T) {
		s, _, _ := newTestSession(&fakeChannel{})
		require.NoError(t, s.Close())

		assert.True(t, domain.IsType(s.Open(ctx), domain.ErrorTypeInvalidState))
		assert.True(t, domain.IsType(s.Send(ctx, []byte("d"), nil, nil), domain.ErrorTypeInvalidState))
		_, _, err := s.Receive(ctx)
		assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidState))
	})
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{messages: []*domain.ResponseMessage{{MessageType: domain.MessageTypeAsk}}}
	s, _, _ := newTestSession(ch)

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Send(ctx, []byte("d"), nil, nil))

	// close while streaming with unread messages
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, int32(1), ch.closes.Load())
}

func TestSession_CloseBeforeOpenReleasesNothing(t *testing.T) {
	ch := &fakeChannel{}
	s, _, _ := newTestSession(ch)

	assert.NoError(t, s.Close())
	assert.Zero(t, ch.closes.Load())
}

func TestSession_OpenErrors(t *testing.T) {
	ctx := context.Background()

	authErr := domain.AuthenticationError("credentials rejected", nil)
	s := New(&fakeAuth{err: authErr}, &fakeDialer{ch: &fakeChannel{}}, nil, nil)
	err := s.Open(ctx)
	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, StateUninitialized, s.State())

	dialErr := domain.TransmissionError("websocket handshake failed", errors.New("refused"))
	s = New(&fakeAuth{}, &fakeDialer{err: dialErr}, nil, nil)
	assert.ErrorIs(t, s.Open(ctx), dialErr)
}

func TestSession_SendErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty drawing", func(t *testing.T) {
		s, _, _ := newTestSession(&fakeChannel{})
		require.NoError(t, s.Open(ctx))
		err := s.Send(ctx, nil, nil, nil)
		assert.True(t, domain.IsType(err, domain.ErrorTypeTransmission))
		assert.Equal(t, StateOpen, s.State())
	})

	t.Run("channel failure is a transmission error", func(t *testing.T) {
		s, _, _ := newTestSession(&fakeChannel{sendErr: errors.New("broken pipe")})
		require.NoError(t, s.Open(ctx))
		err := s.Send(ctx, []byte("d"), nil, nil)
		assert.True(t, domain.IsType(err, domain.ErrorTypeTransmission))
	})
}

func TestSession_ReceiveStreamError(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSession(&fakeChannel{endErr: errors.New("connection reset")})
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Send(ctx, []byte("d"), nil, nil))

	_, more, err := s.Receive(ctx)
	assert.False(t, more)
	assert.True(t, domain.IsType(err, domain.ErrorTypeStream), "got %v", err)
}

func TestSession_DownloadsPayloadURL(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{messages: []*domain.ResponseMessage{
		{MessageType: domain.MessageTypeAsk, MessageSubtype: "VariantCAD", PayloadURL: "https://files/cad.step"},
	}}
	fetcher := &fakeFetcher{data: []byte("STEP")}
	s := New(&fakeAuth{}, &fakeDialer{ch: ch}, fetcher, nil)

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Send(ctx, []byte("d"), nil, nil))

	msg, more, err := s.Receive(ctx)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, []byte("STEP"), msg.Payload)
	assert.Equal(t, "https://files/cad.step", fetcher.url)
	assert.Equal(t, "tok", fetcher.token)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "UNINITIALIZED", StateUninitialized.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "STREAMING", StateStreaming.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
