package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/notify"
)

type staticRecipients struct {
	ids   []int64
	err   error
	calls atomic.Int32
}

func (s *staticRecipients) ListRecipients(context.Context) ([]int64, error) {
	s.calls.Add(1)
	return s.ids, s.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(src Recipients, rec notify.Notifier, clk *clock) *Service {
	return NewService(src, rec, Options{
		RecipientsTTL: 5 * time.Minute,
		Cooldown:      time.Minute,
		AdminIDs:      []int64{1},
		Now:           clk.Now,
	})
}

func TestSendDedupesAndExcludesAdmin(t *testing.T) {
	src := &staticRecipients{ids: []int64{1, 2, 3, 2, 0, 4}}
	rec := &notify.Recorder{}
	s := newTestService(src, rec, &clock{now: time.Unix(1000, 0)})

	res, err := s.Send(context.Background(), "hello", true)
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 3, Failed: 0, Total: 3}, res)
	assert.Empty(t, rec.To(1))
	assert.True(t, rec.Contains(2, "hello"))
	assert.Len(t, rec.To(2), 1)
}

func TestSendCountsFailures(t *testing.T) {
	src := &staticRecipients{ids: []int64{2, 3}}
	rec := &notify.Recorder{Err: errors.New("blocked by user")}
	s := newTestService(src, rec, &clock{now: time.Unix(1000, 0)})

	res, err := s.Send(context.Background(), "hi", false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 2, res.Failed)
}

func TestCooldownAndCachedRecipients(t *testing.T) {
	src := &staticRecipients{ids: []int64{2}}
	clk := &clock{now: time.Unix(1000, 0)}
	s := newTestService(src, &notify.Recorder{}, clk)
	ctx := context.Background()

	_, err := s.Send(ctx, "a", false)
	require.NoError(t, err)

	_, err = s.Send(ctx, "b", false)
	require.ErrorIs(t, err, common.ErrBroadcastCooldown)

	clk.Advance(61 * time.Second)
	_, err = s.Send(ctx, "c", false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load(), "список берётся из кеша")
	assert.Equal(t, 1, s.CachedRecipients())

	s.InvalidateRecipients()
	clk.Advance(61 * time.Second)
	_, err = s.Send(ctx, "d", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestNewWalletRefreshesRecipients(t *testing.T) {
	src := &staticRecipients{ids: []int64{2}}
	clk := &clock{now: time.Unix(1000, 0)}
	s := newTestService(src, &notify.Recorder{}, clk)
	bus := events.NewBus()
	s.Subscribe(bus)
	ctx := context.Background()

	_, err := s.Send(ctx, "a", false)
	require.NoError(t, err)

	src.ids = []int64{2, 5}
	bus.Emit(ctx, events.WalletCreated{UserID: 5, Username: "new"})
	bus.Wait()

	clk.Advance(61 * time.Second)
	res, err := s.Send(ctx, "b", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, 2, res.Total)
}

func TestSingleBroadcastInFlight(t *testing.T) {
	s := newTestService(&staticRecipients{}, &notify.Recorder{}, &clock{now: time.Unix(1000, 0)})
	require.NoError(t, s.begin())

	_, err := s.Send(context.Background(), "x", false)
	require.ErrorIs(t, err, common.ErrBroadcastInProgress)
	s.finish()
}

func TestRecipientsErrorWithoutCache(t *testing.T) {
	src := &staticRecipients{err: errors.New("db down")}
	s := newTestService(src, &notify.Recorder{}, &clock{now: time.Unix(1000, 0)})

	_, err := s.Send(context.Background(), "x", false)
	require.Error(t, err)
}

func TestHandlerReportsToAdmin(t *testing.T) {
	src := &staticRecipients{ids: []int64{2, 3}}
	rec := &notify.Recorder{}
	h := NewHandler(newTestService(src, rec, &clock{now: time.Unix(1000, 0)}), rec)

	h.HandleBroadcast(context.Background(), 1, "  news  ")
	assert.Eventually(t, func() bool { return rec.Contains(1, "Доставлено: 2") }, time.Second, 5*time.Millisecond)
	assert.True(t, rec.Contains(3, "news"))

	h.HandleBroadcast(context.Background(), 1, "   ")
	assert.True(t, rec.Contains(1, "Использование"))
}
