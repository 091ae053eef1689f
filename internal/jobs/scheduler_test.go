package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lifter struct {
	ids   []int64
	err   error
	notes []string
}

func (l *lifter) LiftExpiredBans(_ context.Context, note string) ([]int64, error) {
	l.notes = append(l.notes, note)
	return l.ids, l.err
}

func TestRunAll(t *testing.T) {
	l := &lifter{ids: []int64{1, 2}}
	var swept atomic.Int32

	s := NewScheduler(time.UTC,
		LiftBans("@every 1h", l),
		Sweep("memory", "@every 1h", func() int { swept.Add(1); return 3 }),
	)
	s.RunAll(context.Background())

	assert.Equal(t, []string{"AUTO_UNBAN"}, l.notes)
	assert.Equal(t, int32(1), swept.Load())
}

func TestFailingJobDoesNotStopOthers(t *testing.T) {
	l := &lifter{err: errors.New("db down")}
	var swept atomic.Int32

	s := NewScheduler(nil, LiftBans("@every 1h", l), Sweep("x", "@every 1h", func() int { swept.Add(1); return 0 }))
	s.RunAll(context.Background())

	assert.Len(t, l.notes, 1)
	assert.Equal(t, int32(1), swept.Load())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(time.UTC, Sweep("bad", "not a cron line", func() int { return 0 }))
	require.Error(t, s.Start(context.Background()))
}

func TestStartRunsOnSchedule(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(time.UTC, Sweep("tick", "@every 1s", func() int { runs.Add(1); return 0 }))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

type reporter struct{ pushes atomic.Int32 }

func (r *reporter) PushDailyReport(context.Context) error {
	r.pushes.Add(1)
	return nil
}

func TestDailyReportJob(t *testing.T) {
	r := &reporter{}
	job := DailyReport("55 23 * * *", r)
	assert.Equal(t, "daily_report", job.Name)

	s := NewScheduler(time.UTC, job)
	s.RunAll(context.Background())
	assert.Zero(t, r.pushes.Load(), "отчёт не уходит при каждом рестарте")

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, int32(1), r.pushes.Load())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
