// Package jobs управляет фоновыми задачами (cron).
// scheduler.go держит расписание обслуживания: снятие истёкших банов,
// чистку счётчиков, токенов возврата и кешей в памяти и дневной отчёт админу.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Job — одна фоновая задача.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	// SkipInitial — не запускать в RunAll на старте, только по расписанию.
	SkipInitial bool
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron *cron.Cron
	jobs []Job
}

// NewScheduler создаёт планировщик в часовом поясе приложения.
func NewScheduler(loc *time.Location, jobs ...Job) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		jobs: jobs,
	}
}

// Start регистрирует задачи и запускает cron.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(ctx, job) }); err != nil {
			return fmt.Errorf("job %s (%q): %w", job.Name, job.Schedule, err)
		}
	}
	s.cron.Start()
	log.WithField("jobs", len(s.jobs)).Info("Планировщик задач запущен")
	return nil
}

// RunAll выполняет задачи один раз (на старте, чтобы не ждать первого тика).
func (s *Scheduler) RunAll(ctx context.Context) {
	for _, job := range s.jobs {
		if job.SkipInitial {
			continue
		}
		s.run(ctx, job)
	}
}

// Stop останавливает планировщик и ждёт выполняющиеся задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	started := time.Now()
	if err := job.Run(ctx); err != nil {
		log.WithError(err).WithField("job", job.Name).Error("[CRON] Ошибка задачи")
		return
	}
	log.WithFields(log.Fields{
		"job":      job.Name,
		"duration": time.Since(started),
	}).Debug("[CRON] Задача выполнена")
}

// BanLifter снимает истёкшие временные баны пачкой.
type BanLifter interface {
	LiftExpiredBans(ctx context.Context, note string) ([]int64, error)
}

// LiftBans — задача снятия истёкших банов. Ленивое снятие в CheckBan остаётся,
// задача нужна для тех, кто после бана больше не пишет (зеркало и рассылка).
func LiftBans(schedule string, lifter BanLifter) Job {
	return Job{
		Name:     "lift_bans",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			ids, err := lifter.LiftExpiredBans(ctx, "AUTO_UNBAN")
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				log.WithField("count", len(ids)).Info("[CRON] Сняты истёкшие баны")
			}
			return nil
		},
	}
}

// Sweep — задача чистки структуры в памяти. fn возвращает число удалённых записей.
func Sweep(name, schedule string, fn func() int) Job {
	return Job{
		Name:     name,
		Schedule: schedule,
		Run: func(context.Context) error {
			if n := fn(); n > 0 {
				log.WithFields(log.Fields{"job": name, "removed": n}).Debug("[CRON] Очистка")
			}
			return nil
		},
	}
}

// DailyReporter отправляет дневной отчёт.
type DailyReporter interface {
	PushDailyReport(ctx context.Context) error
}

// DailyReport — задача отправки дневного отчёта админу.
func DailyReport(schedule string, reporter DailyReporter) Job {
	return Job{
		Name:        "daily_report",
		Schedule:    schedule,
		Run:         reporter.PushDailyReport,
		SkipInitial: true,
	}
}
