package shop

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/features/antispam"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
	"serotonyl.ru/wallet-bot/internal/notify"
)

type staticSource struct {
	items []Item
	err   error
	calls int
}

func (s *staticSource) Catalogue(context.Context) ([]Item, error) {
	s.calls++
	return s.items, s.err
}

type mockWallets struct {
	mock.Mock
}

func (m *mockWallets) Get(ctx context.Context, userID int64) (*wallet.Wallet, error) {
	args := m.Called(ctx, userID)
	w, _ := args.Get(0).(*wallet.Wallet)
	return w, args.Error(1)
}

func (m *mockWallets) Debit(ctx context.Context, userID, amount int64, reason string) (wallet.DebitResult, error) {
	args := m.Called(ctx, userID, amount, reason)
	return args.Get(0).(wallet.DebitResult), args.Error(1)
}

func (m *mockWallets) Refund(ctx context.Context, token wallet.ReversalToken, amount int64, reason string) (int64, error) {
	args := m.Called(ctx, token, amount, reason)
	return args.Get(0).(int64), args.Error(1)
}

type bans struct{ banned bool }

func (b bans) CheckBan(context.Context, int64) (antispam.BanStatus, error) {
	return antispam.BanStatus{Banned: b.banned}, nil
}

// scriptedRedeemer отвечает по cookie.
type scriptedRedeemer map[string]Outcome

func (r scriptedRedeemer) Redeem(_ context.Context, credential string, _ Item) (Outcome, error) {
	if o, ok := r[credential]; ok {
		return o, nil
	}
	return OutcomeTransient, errors.New("timeout")
}

var testItems = []Item{
	{Key: "FREESHIP", Name: "Free Ship", Price: 1000, Available: true},
	{Key: "SOLD", Name: "Sold Out", Price: 500, Available: false},
	{Key: "C1A", Name: "Combo A", Price: 300, Available: true, Combo: "combo1"},
	{Key: "C1B", Name: "Combo B", Price: 200, Available: true, Combo: "combo1"},
}

func newShop(t *testing.T, w *mockWallets, r Redeemer, b BanChecker, vault *Vault) *Service {
	t.Helper()
	return newShopWithBus(t, w, r, b, vault, events.NewBus())
}

func newShopWithBus(t *testing.T, w *mockWallets, r Redeemer, b BanChecker, vault *Vault, bus events.Publisher) *Service {
	t.Helper()
	s := NewService(NewCatalogue(&staticSource{items: testItems}, time.Minute), r, w, b, vault, bus, 3)
	s.pause = 0
	return s
}

func activeWallet() *wallet.Wallet {
	return &wallet.Wallet{TeleID: 1, Status: wallet.StatusActive, Balance: 10000}
}

func TestPurchaseRefundsFailedPortion(t *testing.T) {
	w := &mockWallets{}
	w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
	w.On("Debit", mock.Anything, int64(1), int64(3000), "BUY_freeship").
		Return(wallet.DebitResult{OK: true, Balance: 7000, Token: "tok"}, nil).Once()
	w.On("Refund", mock.Anything, wallet.ReversalToken("tok"), int64(2000), "BUY_freeship_REFUND").
		Return(int64(9000), nil).Once()

	r := scriptedRedeemer{"SPC_ST=a": OutcomeOK, "SPC_ST=b": OutcomeAlreadyRedeemed}
	s := newShop(t, w, r, bans{}, nil)

	receipt, err := s.Purchase(context.Background(), 1, " free ship ", []string{"SPC_ST=a", "SPC_ST=b", "SPC_ST=c"})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Saved)
	assert.Equal(t, 2, receipt.Failed)
	assert.Equal(t, int64(3000), receipt.Charged)
	assert.Equal(t, int64(2000), receipt.Refunded)
	assert.Equal(t, int64(9000), receipt.Balance)
	require.Len(t, receipt.Failures, 2)
	assert.Equal(t, OutcomeAlreadyRedeemed, receipt.Failures[0].Outcome)
	assert.Equal(t, OutcomeTransient, receipt.Failures[1].Outcome)
	w.AssertExpectations(t)
}

func TestPurchaseComboChargesSum(t *testing.T) {
	w := &mockWallets{}
	w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
	w.On("Debit", mock.Anything, int64(1), int64(500), "BUY_combo1").
		Return(wallet.DebitResult{OK: true, Balance: 9500, Token: "tok"}, nil).Once()

	s := newShop(t, w, scriptedRedeemer{"SPC_ST=a": OutcomeOK}, bans{}, nil)
	receipt, err := s.Purchase(context.Background(), 1, "COMBO1", []string{"SPC_ST=a"})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Saved)
	assert.Len(t, receipt.Items, 2)
	w.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchasePublishesSavedPerItem(t *testing.T) {
	w := &mockWallets{}
	w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
	w.On("Debit", mock.Anything, int64(1), int64(1000), "BUY_combo1").
		Return(wallet.DebitResult{OK: true, Balance: 9000, Token: "tok"}, nil).Once()

	bus := events.NewBus()
	var mu sync.Mutex
	var got []events.VoucherSaved
	bus.Subscribe(events.EventTypeVoucherSaved, func(_ context.Context, e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.(events.VoucherSaved))
	})

	r := scriptedRedeemer{"SPC_ST=a": OutcomeOK, "SPC_ST=b": OutcomeOK}
	s := newShopWithBus(t, w, r, bans{}, nil, bus)
	_, err := s.Purchase(context.Background(), 1, "combo1", []string{"SPC_ST=a", "SPC_ST=b"})
	require.NoError(t, err)
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []events.VoucherSaved{
		{UserID: 1, Item: "Combo A", Saved: 2, Total: 2, Price: 600, Source: "bot"},
		{UserID: 1, Item: "Combo B", Saved: 2, Total: 2, Price: 400, Source: "bot"},
	}, got)
}

func TestPurchaseInsufficientNoRedeem(t *testing.T) {
	w := &mockWallets{}
	w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
	w.On("Debit", mock.Anything, int64(1), int64(1000), mock.Anything).
		Return(wallet.DebitResult{OK: false, Balance: 10}, nil).Once()

	called := false
	r := redeemFunc(func() { called = true })
	s := newShop(t, w, r, bans{}, nil)

	receipt, err := s.Purchase(context.Background(), 1, "freeship", []string{"SPC_ST=a"})
	require.ErrorIs(t, err, common.ErrInsufficientBalance)
	assert.Equal(t, int64(10), receipt.Balance)
	assert.False(t, called)
}

type redeemFunc func()

func (f redeemFunc) Redeem(context.Context, string, Item) (Outcome, error) {
	f()
	return OutcomeOK, nil
}

func TestPurchaseGates(t *testing.T) {
	ctx := context.Background()

	t.Run("banned", func(t *testing.T) {
		s := newShop(t, &mockWallets{}, scriptedRedeemer{}, bans{banned: true}, nil)
		_, err := s.Purchase(ctx, 1, "freeship", []string{"SPC_ST=a"})
		require.ErrorIs(t, err, common.ErrBanned)
	})

	t.Run("not active", func(t *testing.T) {
		w := &mockWallets{}
		w.On("Get", mock.Anything, int64(1)).Return(&wallet.Wallet{Status: wallet.StatusNew}, nil)
		s := newShop(t, w, scriptedRedeemer{}, bans{}, nil)
		_, err := s.Purchase(ctx, 1, "freeship", []string{"SPC_ST=a"})
		require.ErrorIs(t, err, common.ErrNotActivated)
	})

	t.Run("too many credentials", func(t *testing.T) {
		w := &mockWallets{}
		w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
		s := newShop(t, w, scriptedRedeemer{}, bans{}, nil)
		_, err := s.Purchase(ctx, 1, "freeship", []string{"SPC_1", "SPC_2", "SPC_3", "SPC_4"})
		require.ErrorIs(t, err, common.ErrTooManyCredentials)
	})

	t.Run("out of stock", func(t *testing.T) {
		w := &mockWallets{}
		w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
		s := newShop(t, w, scriptedRedeemer{}, bans{}, nil)
		_, err := s.Purchase(ctx, 1, "sold", []string{"SPC_ST=a"})
		require.ErrorIs(t, err, common.ErrOutOfStock)
	})

	t.Run("unknown item", func(t *testing.T) {
		w := &mockWallets{}
		w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
		s := newShop(t, w, scriptedRedeemer{}, bans{}, nil)
		_, err := s.Purchase(ctx, 1, "nope", []string{"SPC_ST=a"})
		require.ErrorIs(t, err, common.ErrItemNotFound)
	})

	t.Run("no credentials", func(t *testing.T) {
		w := &mockWallets{}
		w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
		s := newShop(t, w, scriptedRedeemer{}, bans{}, NewVault(time.Hour))
		_, err := s.Purchase(ctx, 1, "freeship", nil)
		require.ErrorIs(t, err, common.ErrNoCredentials)
	})
}

func TestPurchaseUsesSavedCredential(t *testing.T) {
	w := &mockWallets{}
	w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
	w.On("Debit", mock.Anything, int64(1), int64(1000), mock.Anything).
		Return(wallet.DebitResult{OK: true, Balance: 9000, Token: "tok"}, nil).Once()

	vault := NewVault(time.Hour)
	vault.SaveCredential(1, "SPC_ST=saved")
	s := newShop(t, w, scriptedRedeemer{"SPC_ST=saved": OutcomeOK}, bans{}, vault)

	receipt, err := s.Purchase(context.Background(), 1, "freeship", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Saved)
}

func TestCatalogueCachedAndStale(t *testing.T) {
	src := &staticSource{items: testItems}
	c := NewCatalogue(src, time.Minute)
	ctx := context.Background()
	assert.Zero(t, c.Cached())

	_, err := c.Items(ctx)
	require.NoError(t, err)
	_, err = c.Find(ctx, "freeship")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, len(testItems), c.Cached())
}

func TestCatalogueDefaultsToEmpty(t *testing.T) {
	c := NewCatalogue(&staticSource{err: errors.New("sheet down")}, time.Minute)
	items, err := c.Items(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNormalizeKeyAndCredentials(t *testing.T) {
	assert.Equal(t, "freeship50k", NormalizeKey("  Free Ship 50K\n"))

	creds := ParseCredentials("SPC_ST=a\n\n  junk line\n SPC_F=b \n")
	assert.Equal(t, []string{"SPC_ST=a", "SPC_F=b"}, creds)
}

func TestVaultExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	v := NewVault(time.Hour)
	v.now = func() time.Time { return now }
	v.SaveCredential(1, "c")

	got, ok := v.Credential(1)
	assert.True(t, ok)
	assert.Equal(t, "c", got)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, v.Cleanup())
	_, ok = v.Credential(1)
	assert.False(t, ok)
}

func TestHTTPRedeemerMapsCodes(t *testing.T) {
	code := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SPC_ST=x", r.Header.Get("Cookie"))
		var body saveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(77), body.VoucherIdentifiers[0].PromotionID)
		json.NewEncoder(w).Encode(map[string]any{"responses": []map[string]int{{"error": code}}})
	}))
	defer srv.Close()

	r := NewHTTPRedeemer(srv.URL)
	item := Item{Key: "FREESHIP", PromotionID: 77, Signature: "sig"}
	ctx := context.Background()

	for c, want := range map[int]Outcome{0: OutcomeOK, 5: OutcomeNotEligible, 14: OutcomeAlreadyRedeemed, 99: OutcomeTransient} {
		code = c
		got, err := r.Redeem(ctx, "SPC_ST=x", item)
		require.NoError(t, err)
		assert.Equal(t, want, got, "code %d", c)
	}
}

func TestHandleBuyReceipt(t *testing.T) {
	w := &mockWallets{}
	w.On("Get", mock.Anything, int64(1)).Return(activeWallet(), nil)
	w.On("Debit", mock.Anything, int64(1), int64(1000), mock.Anything).
		Return(wallet.DebitResult{OK: true, Balance: 9000, Token: "tok"}, nil).Once()
	rec := &notify.Recorder{}
	h := NewHandler(newShop(t, w, scriptedRedeemer{"SPC_ST=a": OutcomeOK}, bans{}, nil), rec)

	h.HandleBuy(context.Background(), 10, 1, "freeship\nSPC_ST=a")
	assert.True(t, rec.Contains(10, "Сохранено: 1"))
	assert.True(t, rec.Contains(10, "9 000"))

	h.HandleBuy(context.Background(), 10, 1, "")
	assert.True(t, rec.Contains(10, "Использование"))
}
