// Package broadcast рассылает сообщение админа всем пользователям.
package broadcast

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/cache"
	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/notify"
)

const recipientsKey = "all"

// Recipients — источник списка получателей.
type Recipients interface {
	ListRecipients(ctx context.Context) ([]int64, error)
}

// Options — паузы рассылки.
type Options struct {
	RecipientsTTL time.Duration
	Cooldown      time.Duration
	Delay         time.Duration
	AdminIDs      []int64
	Now           func() time.Time
}

// Service выполняет рассылки по одной за раз.
type Service struct {
	recipients *cache.Cache[string, []int64]
	notifier   notify.Notifier
	opts       Options

	mu         sync.Mutex
	inProgress bool
	lastRun    time.Time
}

// NewService создаёт сервис рассылки.
func NewService(src Recipients, notifier notify.Notifier, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		recipients: cache.New[string, []int64]("broadcast_recipients", opts.RecipientsTTL,
			func(ctx context.Context, _ string) ([]int64, error) {
				return src.ListRecipients(ctx)
			},
			cache.WithClock[string, []int64](opts.Now),
		),
		notifier: notifier,
		opts:     opts,
	}
}

// Result — итог рассылки.
type Result struct {
	Sent   int
	Failed int
	Total  int
}

// Send рассылает text. excludeAdmin убирает админов из получателей.
func (s *Service) Send(ctx context.Context, text string, excludeAdmin bool) (Result, error) {
	if err := s.begin(); err != nil {
		return Result{}, err
	}
	defer s.finish()

	ids, src, err := s.recipients.Get(ctx, recipientsKey)
	if err != nil {
		return Result{}, err
	}
	ids = s.filter(ids, excludeAdmin)

	logger := log.WithFields(log.Fields{
		"component":  "broadcast",
		"recipients": len(ids),
		"source":     src.String(),
	})
	logger.Info("[BROADCAST] Старт рассылки")

	res := Result{Total: len(ids)}
	for i, id := range ids {
		if ctx.Err() != nil {
			logger.Warn("[BROADCAST] Рассылка прервана")
			break
		}
		if err := s.notifier.Send(ctx, id, text); err != nil {
			res.Failed++
		} else {
			res.Sent++
		}
		if s.opts.Delay > 0 && i < len(ids)-1 {
			time.Sleep(s.opts.Delay)
		}
	}

	logger.WithFields(log.Fields{
		"sent":   res.Sent,
		"failed": res.Failed,
	}).Info("[BROADCAST] Рассылка завершена")
	return res, nil
}

// InvalidateRecipients сбрасывает кеш получателей (новый пользователь).
func (s *Service) InvalidateRecipients() {
	s.recipients.Invalidate(recipientsKey)
}

// CachedRecipients — размер закешированного списка получателей (0, если кеш пуст).
func (s *Service) CachedRecipients() int {
	ids, _ := s.recipients.Peek(recipientsKey)
	return len(ids)
}

// Subscribe сбрасывает кеш получателей на каждый новый кошелёк,
// чтобы ближайшая рассылка дошла и до него.
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventTypeWalletCreated, func(context.Context, events.Event) {
		s.InvalidateRecipients()
	})
}

func (s *Service) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return common.ErrBroadcastInProgress
	}
	if !s.lastRun.IsZero() && s.opts.Now().Sub(s.lastRun) < s.opts.Cooldown {
		return common.ErrBroadcastCooldown
	}
	s.inProgress = true
	return nil
}

func (s *Service) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = false
	s.lastRun = s.opts.Now()
}

func (s *Service) filter(ids []int64, excludeAdmin bool) []int64 {
	skip := make(map[int64]struct{}, len(ids))
	if excludeAdmin {
		for _, a := range s.opts.AdminIDs {
			skip[a] = struct{}{}
		}
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
