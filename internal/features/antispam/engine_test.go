package antispam

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/wallet-bot/internal/features/wallet"
	"serotonyl.ru/wallet-bot/internal/notify"
)

const adminID = 999

func newTestEngine(clock *fakeClock, wallets *mockWallets, rec *notify.Recorder) (*Engine, *MemoryStore) {
	store := NewMemoryStore(clock.Now)
	cfg := DefaultConfig()
	cfg.AdminID = adminID
	return NewEngine(store, wallets, rec, cfg, clock.Now), store
}

func TestTrackViolationBelowThreshold(t *testing.T) {
	clock := newFakeClock()
	wallets := &mockWallets{}
	engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
	ctx := context.Background()

	for i := 1; i < 5; i++ {
		res, err := engine.TrackViolation(ctx, 1, "u", ClassText)
		require.NoError(t, err)
		assert.False(t, res.Banned)
		assert.Equal(t, int64(i), res.Count)
	}
	wallets.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTrackViolationClassesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	wallets := &mockWallets{}
	engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		engine.TrackViolation(ctx, 1, "u", ClassText)
		engine.TrackViolation(ctx, 1, "u", ClassCallback)
		engine.TrackViolation(ctx, 1, "u", ClassCommand)
	}
	wallets.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTrackViolationWindowExpires(t *testing.T) {
	clock := newFakeClock()
	wallets := &mockWallets{}
	engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		engine.TrackViolation(ctx, 1, "u", ClassText)
	}
	clock.Advance(21 * time.Second)
	res, err := engine.TrackViolation(ctx, 1, "u", ClassText)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	assert.False(t, res.Banned)
}

func TestEscalationTemporaryThenPermanent(t *testing.T) {
	clock := newFakeClock()
	wallets := &mockWallets{}
	rec := &notify.Recorder{}
	engine, store := newTestEngine(clock, wallets, rec)
	ctx := context.Background()

	wantUntil := clock.Now().Add(time.Hour)
	wallets.On("Get", mock.Anything, int64(1)).Return(nil, nil).Once()
	wallets.On("SetStatus", mock.Anything, int64(1), "u", wallet.StatusBan1h,
		mock.MatchedBy(func(until *time.Time) bool { return until != nil && until.Equal(wantUntil) }),
		mock.AnythingOfType("string")).Return(nil).Once()

	var res BanResult
	for i := 0; i < 5; i++ {
		var err error
		res, err = engine.TrackViolation(ctx, 1, "u", ClassCallback)
		require.NoError(t, err)
	}
	assert.True(t, res.Banned)
	assert.False(t, res.Permanent)
	require.NotNil(t, res.Until)
	assert.True(t, rec.Contains(adminID, "Бан на 1h0m0s"))

	marked, _ := store.HasMark(ctx, markKey(1))
	assert.True(t, marked)

	// Повторный порог в пределах 30 дней — перманентный бан
	clock.Advance(2 * time.Hour)
	expired := wantUntil
	wallets.On("Get", mock.Anything, int64(1)).
		Return(&wallet.Wallet{TeleID: 1, Status: wallet.StatusBan1h, BanUntil: &expired}, nil).Once()
	wallets.On("SetStatus", mock.Anything, int64(1), "u", wallet.StatusBanned,
		(*time.Time)(nil), mock.AnythingOfType("string")).Return(nil).Once()

	for i := 0; i < 5; i++ {
		var err error
		res, err = engine.TrackViolation(ctx, 1, "u", ClassText)
		require.NoError(t, err)
	}
	assert.True(t, res.Banned)
	assert.True(t, res.Permanent)
	assert.True(t, rec.Contains(adminID, "Перманентный бан"))
	wallets.AssertExpectations(t)
}

func TestEscalationMarkExpires(t *testing.T) {
	clock := newFakeClock()
	wallets := &mockWallets{}
	engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
	ctx := context.Background()

	wallets.On("Get", mock.Anything, int64(1)).Return(nil, nil).Twice()
	wallets.On("SetStatus", mock.Anything, int64(1), "", wallet.StatusBan1h, mock.Anything, mock.Anything).Return(nil).Twice()

	for i := 0; i < 5; i++ {
		engine.TrackViolation(ctx, 1, "", ClassText)
	}
	clock.Advance(31 * 24 * time.Hour)
	var res BanResult
	for i := 0; i < 5; i++ {
		res, _ = engine.TrackViolation(ctx, 1, "", ClassText)
	}
	assert.True(t, res.Banned)
	assert.False(t, res.Permanent, "метка истекла, снова временный бан")
	wallets.AssertExpectations(t)
}

func TestBurstInOneWindowBansOnce(t *testing.T) {
	clock := newFakeClock()
	wallets := &mockWallets{}
	engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
	ctx := context.Background()

	wallets.On("Get", mock.Anything, int64(1)).Return(nil, nil).Once()
	wallets.On("SetStatus", mock.Anything, int64(1), "u", wallet.StatusBan1h, mock.Anything, mock.Anything).Return(nil).Once()

	for i := 1; i <= 12; i++ {
		res, err := engine.TrackViolation(ctx, 1, "u", ClassText)
		require.NoError(t, err)
		assert.Equal(t, i == 5, res.Banned, "violation %d", i)
		assert.False(t, res.Permanent, "violation %d", i)
	}
	wallets.AssertExpectations(t)
	wallets.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, wallet.StatusBanned, mock.Anything, mock.Anything)
}

func TestConcurrentBurstBansOnce(t *testing.T) {
	clock := newFakeClock()
	wallets := &mockWallets{}
	engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
	ctx := context.Background()

	wallets.On("Get", mock.Anything, int64(1)).Return(nil, nil)
	wallets.On("SetStatus", mock.Anything, int64(1), "u", wallet.StatusBan1h, mock.Anything, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.TrackViolation(ctx, 1, "u", ClassCommand)
		}()
	}
	wg.Wait()

	wallets.AssertNumberOfCalls(t, "SetStatus", 1)
}

func TestThresholdDuringTemporaryBanDoesNotEscalate(t *testing.T) {
	clock := newFakeClock()
	wallets := &mockWallets{}
	engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
	ctx := context.Background()

	wallets.On("Get", mock.Anything, int64(1)).Return(nil, nil).Once()
	wallets.On("SetStatus", mock.Anything, int64(1), "u", wallet.StatusBan1h, mock.Anything, mock.Anything).Return(nil).Once()
	for i := 0; i < 5; i++ {
		engine.TrackViolation(ctx, 1, "u", ClassText)
	}

	// окно истекло, а бан на час ещё действует
	clock.Advance(30 * time.Second)
	until := clock.Now().Add(time.Hour)
	wallets.On("Get", mock.Anything, int64(1)).
		Return(&wallet.Wallet{TeleID: 1, Status: wallet.StatusBan1h, BanUntil: &until}, nil).Once()

	var res BanResult
	for i := 0; i < 5; i++ {
		res, _ = engine.TrackViolation(ctx, 1, "u", ClassCallback)
	}
	assert.True(t, res.Banned)
	assert.False(t, res.Permanent)
	wallets.AssertExpectations(t)
	wallets.AssertNumberOfCalls(t, "SetStatus", 1)
}

func TestCheckBan(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()
	future := clock.Now().Add(30 * time.Minute)
	past := clock.Now().Add(-time.Minute)

	t.Run("unknown user", func(t *testing.T) {
		wallets := &mockWallets{}
		engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
		wallets.On("Get", mock.Anything, int64(1)).Return(nil, nil)
		st, err := engine.CheckBan(ctx, 1)
		require.NoError(t, err)
		assert.False(t, st.Banned)
	})

	t.Run("permanent statuses", func(t *testing.T) {
		for _, status := range []wallet.Status{wallet.StatusBanned, wallet.StatusBannedQRSpam} {
			wallets := &mockWallets{}
			engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
			wallets.On("Get", mock.Anything, int64(1)).Return(&wallet.Wallet{TeleID: 1, Status: status}, nil)
			st, err := engine.CheckBan(ctx, 1)
			require.NoError(t, err)
			assert.True(t, st.Banned)
			assert.True(t, st.Permanent)
			assert.Equal(t, "⛔ Аккаунт заблокирован навсегда", engine.BanText(st))
			wallets.AssertNotCalled(t, "LiftIfExpired", mock.Anything, mock.Anything, mock.Anything)
		}
	})

	t.Run("temporary ban active", func(t *testing.T) {
		wallets := &mockWallets{}
		engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
		wallets.On("Get", mock.Anything, int64(1)).Return(&wallet.Wallet{TeleID: 1, Status: wallet.StatusBan1h, BanUntil: &future}, nil)
		st, err := engine.CheckBan(ctx, 1)
		require.NoError(t, err)
		assert.True(t, st.Banned)
		assert.False(t, st.Permanent)
		assert.Equal(t, &future, st.Until)
		assert.Contains(t, engine.BanText(st), "2024-05-01 12:30")
	})

	t.Run("temporary ban expired is lifted", func(t *testing.T) {
		wallets := &mockWallets{}
		engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
		wallets.On("Get", mock.Anything, int64(1)).Return(&wallet.Wallet{TeleID: 1, Status: wallet.StatusBan1h, BanUntil: &past}, nil)
		wallets.On("LiftIfExpired", mock.Anything, int64(1), mock.Anything).Return(true, nil).Once()
		st, err := engine.CheckBan(ctx, 1)
		require.NoError(t, err)
		assert.False(t, st.Banned)
		assert.Equal(t, wallet.StatusActive, st.Status)
		wallets.AssertExpectations(t)
	})

	t.Run("temporary ban without expiry is treated as expired", func(t *testing.T) {
		wallets := &mockWallets{}
		engine, _ := newTestEngine(clock, wallets, &notify.Recorder{})
		wallets.On("Get", mock.Anything, int64(1)).Return(&wallet.Wallet{TeleID: 1, Status: wallet.StatusBan1h}, nil)
		wallets.On("LiftIfExpired", mock.Anything, int64(1), mock.Anything).Return(false, nil).Once()
		st, err := engine.CheckBan(ctx, 1)
		require.NoError(t, err)
		assert.False(t, st.Banned)
		wallets.AssertExpectations(t)
	})
}
