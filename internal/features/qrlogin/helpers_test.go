package qrlogin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"serotonyl.ru/wallet-bot/internal/features/antispam"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
)

// fakeProvider отвечает "не отсканировано", пока не выставлен scanned.
type fakeProvider struct {
	scanned   atomic.Bool
	createErr error
	credErr   error
	polls     atomic.Int32
	fetches   atomic.Int32
	creates   atomic.Int32
}

func (p *fakeProvider) CreateSession(_ context.Context, _ int64) (string, []byte, error) {
	p.creates.Add(1)
	if p.createErr != nil {
		return "", nil, p.createErr
	}
	return "sess-1", []byte("png"), nil
}

func (p *fakeProvider) PollStatus(_ context.Context, _ string) (Status, error) {
	p.polls.Add(1)
	if p.scanned.Load() {
		return Status{State: "CONFIRMED", HasToken: true}, nil
	}
	return Status{State: "WAITING"}, nil
}

func (p *fakeProvider) FetchCredential(_ context.Context, _ string) (Credential, error) {
	p.fetches.Add(1)
	if p.credErr != nil {
		return Credential{}, p.credErr
	}
	return parseCredential("SPC_ST=st-value; SPC_F=f-value", ""), nil
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Debit(ctx context.Context, userID, amount int64, reason string) (wallet.DebitResult, error) {
	args := m.Called(ctx, userID, amount, reason)
	return args.Get(0).(wallet.DebitResult), args.Error(1)
}

func (m *mockLedger) Refund(ctx context.Context, token wallet.ReversalToken, amount int64, reason string) (int64, error) {
	args := m.Called(ctx, token, amount, reason)
	return args.Get(0).(int64), args.Error(1)
}

type fakeBans struct {
	banned bool
}

func (b fakeBans) CheckBan(context.Context, int64) (antispam.BanStatus, error) {
	return antispam.BanStatus{Banned: b.banned}, nil
}

type fakeFailures struct {
	mu     sync.Mutex
	counts map[int64]int
	resets int
	banAt  int
}

func newFakeFailures(banAt int) *fakeFailures {
	return &fakeFailures{counts: make(map[int64]int), banAt: banAt}
}

func (f *fakeFailures) RecordFailure(_ context.Context, userID int64, _ string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[userID]++
	n := f.counts[userID]
	return n, f.banAt > 0 && n >= f.banAt, nil
}

func (f *fakeFailures) Reset(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, userID)
	f.resets++
}

func (f *fakeFailures) Count(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[userID]
}

func (f *fakeFailures) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

type fakeSink struct {
	mu      sync.Mutex
	cookies map[int64]string
}

func (s *fakeSink) SaveCredential(userID int64, cookie string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cookies == nil {
		s.cookies = make(map[int64]string)
	}
	s.cookies[userID] = cookie
}

func (s *fakeSink) Get(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookies[userID]
}

var errProvider = errors.New("provider down")
