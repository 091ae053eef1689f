package events

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()

	var balanceCalls, statusCalls atomic.Int32
	bus.Subscribe(EventTypeBalanceChanged, func(ctx context.Context, ev Event) {
		e := ev.(BalanceChanged)
		assert.Equal(t, int64(7), e.UserID)
		balanceCalls.Add(1)
	})
	bus.Subscribe(EventTypeBalanceChanged, func(ctx context.Context, ev Event) {
		balanceCalls.Add(1)
	})
	bus.Subscribe(EventTypeStatusChanged, func(ctx context.Context, ev Event) {
		statusCalls.Add(1)
	})

	bus.Emit(context.Background(), BalanceChanged{UserID: 7, Delta: 10, NewBalance: 10})
	bus.Wait()

	assert.Equal(t, int32(2), balanceCalls.Load())
	assert.Equal(t, int32(0), statusCalls.Load())
}

func TestBusRecoversFromPanic(t *testing.T) {
	bus := NewBus()
	var after atomic.Bool
	bus.Subscribe(EventTypeStatusChanged, func(ctx context.Context, ev Event) {
		panic("boom")
	})
	bus.Subscribe(EventTypeStatusChanged, func(ctx context.Context, ev Event) {
		after.Store(true)
	})

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), StatusChanged{UserID: 1, Status: "banned"})
		bus.Wait()
	})
	assert.True(t, after.Load())
}

func TestBusHandlerSurvivesCancelledContext(t *testing.T) {
	bus := NewBus()
	var ctxErr atomic.Value
	bus.Subscribe(EventTypeTopupCredited, func(ctx context.Context, ev Event) {
		ctxErr.Store(ctx.Err() == nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Emit(ctx, TopupCredited{UserID: 1})
	bus.Wait()

	assert.Equal(t, true, ctxErr.Load())
}
