package qrlogin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
	"serotonyl.ru/wallet-bot/internal/notify"
)

const (
	testUser = int64(42)
	testChat = int64(4200)
	waitFor  = 2 * time.Second
	tick     = 5 * time.Millisecond
)

type fixture struct {
	provider *fakeProvider
	ledger   *mockLedger
	failures *fakeFailures
	rec      *notify.Recorder
	sink     *fakeSink
	coord    *Coordinator
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		provider: &fakeProvider{},
		ledger:   &mockLedger{},
		failures: newFakeFailures(5),
		rec:      &notify.Recorder{},
		sink:     &fakeSink{},
	}
	f.coord = NewCoordinator(f.provider, f.ledger, fakeBans{}, f.failures, f.rec, f.sink, Options{
		Fee:          100,
		PollInterval: 2 * time.Millisecond,
		Timeout:      timeout,
		MaxFailures:  5,
	})
	return f
}

func TestCreateBannedSkipsProvider(t *testing.T) {
	f := newFixture(t, time.Second)
	f.coord.bans = fakeBans{banned: true}

	_, err := f.coord.Create(context.Background(), testUser, testChat, "u")
	require.ErrorIs(t, err, common.ErrBanned)
	assert.Equal(t, int32(0), f.provider.creates.Load())
	assert.Equal(t, 0, f.coord.Active())
}

func TestCreateProviderErrorCountsFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.provider.createErr = errProvider

	_, err := f.coord.Create(context.Background(), testUser, testChat, "u")
	require.Error(t, err)
	assert.Equal(t, 1, f.failures.Count(testUser))
	assert.Equal(t, 0, f.coord.Active())
}

func TestSuccessDebitsThenFetchesCredential(t *testing.T) {
	f := newFixture(t, time.Second)
	f.ledger.On("Debit", mock.Anything, testUser, int64(100), "GET_QR").
		Return(wallet.DebitResult{OK: true, Balance: 900, Token: "tok"}, nil).Once()

	s, err := f.coord.Create(context.Background(), testUser, testChat, "u")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), s.Payload)
	assert.Equal(t, 1, f.coord.Active())

	f.provider.scanned.Store(true)

	assert.Eventually(t, func() bool { return f.coord.Active() == 0 }, waitFor, tick)
	assert.Eventually(t, func() bool { return f.rec.Contains(testChat, "SPC_ST=st-value") }, waitFor, tick)
	assert.Equal(t, int32(1), f.provider.fetches.Load())
	assert.Equal(t, 1, f.failures.Resets())
	assert.Equal(t, "SPC_ST=st-value; SPC_F=f-value", f.sink.Get(testUser))
	f.ledger.AssertExpectations(t)
}

func TestInsufficientFundsSkipsCredential(t *testing.T) {
	f := newFixture(t, time.Second)
	f.ledger.On("Debit", mock.Anything, testUser, int64(100), "GET_QR").
		Return(wallet.DebitResult{OK: false, Balance: 50}, nil).Once()
	f.provider.scanned.Store(true)

	_, err := f.coord.Create(context.Background(), testUser, testChat, "u")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.rec.Contains(testChat, "Недостаточно средств") }, waitFor, tick)
	assert.Equal(t, 0, f.coord.Active())
	assert.Equal(t, int32(0), f.provider.fetches.Load())
	assert.Equal(t, 0, f.failures.Resets())
	f.ledger.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCredentialFailureRefundsFee(t *testing.T) {
	f := newFixture(t, time.Second)
	f.provider.credErr = errProvider
	f.ledger.On("Debit", mock.Anything, testUser, int64(100), "GET_QR").
		Return(wallet.DebitResult{OK: true, Balance: 900, Token: "tok"}, nil).Once()
	f.ledger.On("Refund", mock.Anything, wallet.ReversalToken("tok"), int64(100), "GET_QR_REFUND").
		Return(int64(1000), nil).Once()
	f.provider.scanned.Store(true)

	_, err := f.coord.Create(context.Background(), testUser, testChat, "u")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.rec.Contains(testChat, "Плата возвращена") }, waitFor, tick)
	assert.True(t, f.rec.Contains(testChat, "1 000"))
	assert.Equal(t, 1, f.failures.Count(testUser))
	assert.Equal(t, 0, f.coord.Active())
	f.ledger.AssertExpectations(t)
}

func TestCancelPreventsDebit(t *testing.T) {
	f := newFixture(t, time.Second)

	s, err := f.coord.Create(context.Background(), testUser, testChat, "u")
	require.NoError(t, err)

	assert.True(t, f.coord.Cancel(s.ID))
	assert.False(t, f.coord.Cancel(s.ID), "повторная отмена ничего не делает")
	f.provider.scanned.Store(true)

	assert.Eventually(t, func() bool { return f.coord.Active() == 0 }, waitFor, tick)
	f.ledger.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int32(0), f.provider.fetches.Load())
	assert.Empty(t, f.rec.To(testChat))
}

func TestCancelUnknownSessionIsNoop(t *testing.T) {
	f := newFixture(t, time.Second)
	assert.False(t, f.coord.Cancel("missing"))
}

func TestTimeoutRecordsFailure(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)

	_, err := f.coord.Create(context.Background(), testUser, testChat, "u")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.rec.Contains(testChat, "Время вышло") }, waitFor, tick)
	assert.Equal(t, 1, f.failures.Count(testUser))
	assert.Equal(t, 0, f.coord.Active())
	assert.False(t, f.rec.Contains(testChat, "Предупреждение"))
	f.ledger.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTimeoutWarnsAfterThreeFailures(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	f.failures.RecordFailure(ctx, testUser, "u")
	f.failures.RecordFailure(ctx, testUser, "u")

	_, err := f.coord.Create(ctx, testUser, testChat, "u")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.rec.Contains(testChat, "Предупреждение: 3/5") }, waitFor, tick)
}

func TestTimeoutBanNotice(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.failures.banAt = 1

	_, err := f.coord.Create(context.Background(), testUser, testChat, "u")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.rec.Contains(testChat, "заблокирован навсегда") }, waitFor, tick)
	assert.False(t, f.rec.Contains(testChat, "Время вышло"))
}

func TestParseCancelData(t *testing.T) {
	id, ok := ParseCancelData("qr_cancel:abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = ParseCancelData("qr_cancel:")
	assert.False(t, ok)
	_, ok = ParseCancelData("other:abc")
	assert.False(t, ok)
}

func TestHandlerCancelOtherUser(t *testing.T) {
	f := newFixture(t, time.Second)
	h := NewHandler(f.coord, f.rec)
	ctx := context.Background()

	s, err := f.coord.Create(ctx, testUser, testChat, "u")
	require.NoError(t, err)

	h.HandleCancel(ctx, 1, 1, CancelPrefix+s.ID)
	got, ok := f.coord.Lookup(s.ID)
	require.True(t, ok)
	assert.Equal(t, StateWaiting, got.State)

	h.HandleCancel(ctx, testChat, testUser, CancelPrefix+s.ID)
	assert.True(t, f.rec.Contains(testChat, "Отменено"))
	assert.Eventually(t, func() bool { return f.coord.Active() == 0 }, waitFor, tick)
}

func TestHandlerQRSendsPhotoWithCancelButton(t *testing.T) {
	f := newFixture(t, time.Second)
	h := NewHandler(f.coord, f.rec)
	ctx := context.Background()

	h.HandleQR(ctx, testChat, testUser, "u")

	msgs := f.rec.To(testChat)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Photo)
	require.Len(t, msgs[0].Buttons, 1)
	assert.Equal(t, CancelPrefix+"sess-1", msgs[0].Buttons[0].Data)

	f.coord.Cancel("sess-1")
}
