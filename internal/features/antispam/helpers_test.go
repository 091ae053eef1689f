package antispam

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"serotonyl.ru/wallet-bot/internal/features/wallet"
)

// fakeClock — управляемые часы для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockWallets struct {
	mock.Mock
}

func (m *mockWallets) Get(ctx context.Context, userID int64) (*wallet.Wallet, error) {
	args := m.Called(ctx, userID)
	w, _ := args.Get(0).(*wallet.Wallet)
	return w, args.Error(1)
}

func (m *mockWallets) SetStatus(ctx context.Context, userID int64, username string, status wallet.Status, banUntil *time.Time, note string) error {
	args := m.Called(ctx, userID, username, status, banUntil, note)
	return args.Error(0)
}

func (m *mockWallets) LiftIfExpired(ctx context.Context, userID int64, note string) (bool, error) {
	args := m.Called(ctx, userID, note)
	return args.Bool(0), args.Error(1)
}
