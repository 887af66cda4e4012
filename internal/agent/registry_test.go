package agent

import (
	"context"
	"errors"
	"testing"

	"roboai/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	name      string
	startErr  error
	healthErr error
	panicky   bool
	starts    int
	stops     int
	stopLog   *[]string
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Start(context.Context) error {
	s.starts++
	return s.startErr
}

func (s *stubAgent) Stop(context.Context) error {
	s.stops++
	if s.stopLog != nil {
		*s.stopLog = append(*s.stopLog, s.name)
	}
	return nil
}

func (s *stubAgent) HealthCheck(context.Context) (Health, error) {
	if s.panicky {
		panic("health exploded")
	}
	return Health{Name: s.name, State: StateRunning, Running: true}, s.healthErr
}

func TestRegistry_RegisterOverwritesAndKeepsOrder(t *testing.T) {
	reg := NewRegistry(logger.Nop())
	first := &stubAgent{name: "auth"}
	reg.Register(first)
	reg.Register(&stubAgent{name: "data"})
	replacement := &stubAgent{name: "auth"}
	reg.Register(replacement)
	reg.Register(nil)

	assert.Equal(t, []string{"auth", "data"}, reg.List())
	got, ok := reg.Get("auth")
	require.True(t, ok)
	assert.Same(t, replacement, got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_StartAllIsBestEffort(t *testing.T) {
	reg := NewRegistry(logger.Nop())
	bad := &stubAgent{name: "auth", startErr: errors.New("no credentials")}
	good := &stubAgent{name: "execution"}
	reg.Register(bad)
	reg.Register(good)

	err := reg.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
	assert.Equal(t, 1, bad.starts)
	assert.Equal(t, 1, good.starts)
}

func TestRegistry_StopAllReverseOrder(t *testing.T) {
	var order []string
	reg := NewRegistry(logger.Nop())
	for _, name := range []string{"auth", "data", "execution"} {
		reg.Register(&stubAgent{name: name, stopLog: &order})
	}
	require.NoError(t, reg.StopAll(context.Background()))
	assert.Equal(t, []string{"execution", "data", "auth"}, order)
}

func TestRegistry_StartOneStopOne(t *testing.T) {
	reg := NewRegistry(logger.Nop())
	w := newFake()
	reg.Register(New("execution", w, WithLogger(logger.Nop())))
	ctx := context.Background()

	assert.False(t, reg.StartOne(ctx, "unknown"))
	assert.False(t, reg.StopOne(ctx, "unknown"))

	assert.True(t, reg.StartOne(ctx, "execution"))
	assert.False(t, reg.StartOne(ctx, "execution"), "second start reports failure")
	assert.True(t, reg.StopOne(ctx, "execution"))
	assert.True(t, reg.StopOne(ctx, "execution"), "stop is idempotent")
}

func TestRegistry_StartPanicIsContained(t *testing.T) {
	w := &fakeWorker{}
	w.On("Initialize", mock.Anything).Return(nil)
	reg := NewRegistry(logger.Nop())
	reg.Register(&panicStarter{stubAgent{name: "flaky"}})
	reg.Register(New("ok", w, WithLogger(logger.Nop())))

	err := reg.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	a, _ := reg.Get("ok")
	assert.Equal(t, StateRunning, a.(*Runtime).State())
	require.NoError(t, a.Stop(context.Background()))
}

type panicStarter struct{ stubAgent }

func (p *panicStarter) Start(context.Context) error { panic("start exploded") }

func TestRegistry_AllStatusToleratesFailures(t *testing.T) {
	reg := NewRegistry(logger.Nop())
	reg.Register(&stubAgent{name: "auth", healthErr: errors.New("session probe failed")})
	reg.Register(&stubAgent{name: "data", panicky: true})
	reg.Register(&stubAgent{name: "execution"})

	status := reg.AllStatus(context.Background())
	require.Len(t, status, 3)

	assert.Equal(t, "session probe failed", status["auth"].Error)
	assert.Contains(t, status["data"].Error, "health exploded")
	assert.Equal(t, "data", status["data"].Name)
	assert.Empty(t, status["execution"].Error)
	assert.True(t, status["execution"].Running)
}

type recordingReceiver struct {
	*fakeWorker
	got []Message
}

func (r *recordingReceiver) Receive(_ context.Context, msg Message) error {
	switch msg.Kind {
	case "reject":
		return errors.New("rejected")
	case "explode":
		panic("receive exploded")
	}
	r.got = append(r.got, msg)
	return nil
}

func TestRegistry_Send(t *testing.T) {
	recv := &recordingReceiver{fakeWorker: newFake()}
	reg := NewRegistry(logger.Nop())
	reg.Register(New("execution", recv, WithLogger(logger.Nop())))
	reg.Register(New("data", newFake(), WithLogger(logger.Nop())))
	reg.Register(&stubAgent{name: "plain"})
	ctx := context.Background()

	assert.True(t, reg.Send(ctx, "data", "execution", Message{Kind: "quote_stale"}))
	require.Len(t, recv.got, 1)
	assert.Equal(t, "data", recv.got[0].From)
	assert.Equal(t, "execution", recv.got[0].To)
	assert.False(t, recv.got[0].SentAt.IsZero())

	assert.False(t, reg.Send(ctx, "data", "execution", Message{Kind: "reject"}))
	assert.False(t, reg.Send(ctx, "data", "missing", Message{}))
	assert.False(t, reg.Send(ctx, "execution", "data", Message{}), "worker without Receive")
	assert.False(t, reg.Send(ctx, "execution", "plain", Message{}), "agent without Deliver")
}

func TestRegistry_SendPanicIsContained(t *testing.T) {
	recv := &recordingReceiver{fakeWorker: newFake()}
	reg := NewRegistry(logger.Nop())
	reg.Register(New("execution", recv, WithLogger(logger.Nop())))
	ctx := context.Background()

	var ok bool
	assert.NotPanics(t, func() {
		ok = reg.Send(ctx, "strategy", "execution", Message{Kind: "explode"})
	})
	assert.False(t, ok)
	assert.Empty(t, recv.got)

	assert.True(t, reg.Send(ctx, "strategy", "execution", Message{Kind: "signal"}))
	assert.Len(t, recv.got, 1)
}
