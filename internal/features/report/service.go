package report

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// Service собирает дневные итоги и ведёт журнал использования.
type Service struct {
	pool     *pgxpool.Pool
	repo     *Repository
	notifier notify.Notifier
	adminID  int64
	loc      *time.Location
	now      func() time.Time
}

// Options — кому и в каком поясе считать отчёт.
type Options struct {
	AdminID  int64
	Location *time.Location
	Now      func() time.Time
}

// NewService создаёт сервис отчётов.
func NewService(pool *pgxpool.Pool, repo *Repository, notifier notify.Notifier, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		notifier: notifier,
		adminID:  opts.AdminID,
		loc:      opts.Location,
		now:      opts.Now,
	}
}

// Subscribe пишет каждое сохранение ваучера в журнал.
// Ошибка записи теряет строку отчёта, но не покупку.
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventTypeVoucherSaved, func(ctx context.Context, e events.Event) {
		ev := e.(events.VoucherSaved)
		err := s.repo.RecordUsage(ctx, s.pool, Usage{
			UserID: ev.UserID,
			Item:   ev.Item,
			Saved:  ev.Saved,
			Total:  ev.Total,
			Price:  ev.Price,
			Source: ev.Source,
		})
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"user_id": ev.UserID,
				"item":    ev.Item,
			}).Error("[REPORT] Не удалось записать использование")
		}
	})
}

// Today — начало текущего дня в поясе приложения.
func (s *Service) Today() time.Time {
	return startOfDay(s.now(), s.loc)
}

// Location — пояс, в котором считаются дни.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Daily считает итоги календарного дня, в который попадает day.
func (s *Service) Daily(ctx context.Context, day time.Time) (DailyStats, error) {
	from := startOfDay(day, s.loc)
	return s.repo.DailyStats(ctx, s.pool, from, from.AddDate(0, 0, 1))
}

// PushDailyReport отправляет итоги текущего дня главному админу.
func (s *Service) PushDailyReport(ctx context.Context) error {
	if s.adminID == 0 {
		return nil
	}
	stats, err := s.Daily(ctx, s.now())
	if err != nil {
		return err
	}
	return s.notifier.Send(ctx, s.adminID, FormatDaily(stats))
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
