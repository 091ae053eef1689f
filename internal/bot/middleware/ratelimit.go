package middleware

import (
	"sync"
	"time"

	"serotonyl.ru/wallet-bot/internal/features/antispam"
)

type cooldownKey struct {
	class  antispam.Class
	userID int64
}

// Cooldown — минимальная пауза между действиями одного класса.
// Слишком частое действие считается нарушением и уходит в антиспам.
type Cooldown struct {
	mu     sync.Mutex
	last   map[cooldownKey]time.Time
	pauses map[antispam.Class]time.Duration
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCooldown создаёт трекер. Класс без паузы всегда разрешён.
func NewCooldown(pauses map[antispam.Class]time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	c := &Cooldown{
		last:   make(map[cooldownKey]time.Time),
		pauses: pauses,
		now:    now,
		stopCh: make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Close останавливает фоновую очистку. Вызывать на shutdown.
func (c *Cooldown) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Allow отмечает действие и сообщает, выдержана ли пауза.
// Отказ не сдвигает отметку: ждать надо от последнего разрешённого действия.
func (c *Cooldown) Allow(class antispam.Class, userID int64) bool {
	pause := c.pauses[class]
	if pause <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := cooldownKey{class: class, userID: userID}
	if t, ok := c.last[key]; ok && now.Sub(t) < pause {
		return false
	}
	c.last[key] = now
	return true
}

// Sweep удаляет отметки старше самой длинной паузы.
func (c *Cooldown) Sweep() int {
	var longest time.Duration
	for _, p := range c.pauses {
		if p > longest {
			longest = p
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-longest)
	removed := 0
	for k, t := range c.last {
		if t.Before(cutoff) {
			delete(c.last, k)
			removed++
		}
	}
	return removed
}

func (c *Cooldown) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
