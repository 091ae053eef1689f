package antispam

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/features/wallet"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// Wallets — операции кошелька, нужные движку банов.
type Wallets interface {
	Get(ctx context.Context, userID int64) (*wallet.Wallet, error)
	SetStatus(ctx context.Context, userID int64, username string, status wallet.Status, banUntil *time.Time, note string) error
	LiftIfExpired(ctx context.Context, userID int64, note string) (bool, error)
}

// Config — пороги антиспама.
type Config struct {
	Threshold        int           // нарушений в окне до бана
	Window           time.Duration // окно подсчёта
	BanDuration      time.Duration // длительность временного бана
	EscalationTTL    time.Duration // сколько помним первый бан
	PermanentMarkTTL time.Duration // метка после перманентного бана
	AdminID          int64         // кому слать уведомления (0 — никому)
	Location         *time.Location
}

// DefaultConfig — 5 нарушений за 20 секунд, бан на час, память на 30 дней.
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		Window:           20 * time.Second,
		BanDuration:      time.Hour,
		EscalationTTL:    30 * 24 * time.Hour,
		PermanentMarkTTL: 365 * 24 * time.Hour,
		Location:         time.UTC,
	}
}

// BanResult — итог TrackViolation.
type BanResult struct {
	Count     int64
	Banned    bool
	Permanent bool
	Until     *time.Time
}

// BanStatus — итог CheckBan.
type BanStatus struct {
	Banned    bool
	Permanent bool
	Status    wallet.Status
	Until     *time.Time
}

// Engine — движок банов.
type Engine struct {
	store    Store
	wallets  Wallets
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

// NewEngine создаёт движок банов.
func NewEngine(store Store, wallets Wallets, notifier notify.Notifier, cfg Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PermanentMarkTTL <= 0 {
		cfg.PermanentMarkTTL = 365 * 24 * time.Hour
	}
	return &Engine{store: store, wallets: wallets, notifier: notifier, cfg: cfg, now: now}
}

// TrackViolation засчитывает одно нарушение класса class.
// Бан ставится только в момент пересечения порога: нарушения сверх порога
// в том же окне (параллельные апдейты одного флуда) ничего не меняют.
// Первый раз — бан на час и метка эскалации; при живой метке и уже
// истёкшем временном бане — перманентный бан.
func (e *Engine) TrackViolation(ctx context.Context, userID int64, username string, class Class) (BanResult, error) {
	n, err := e.store.Incr(ctx, windowKey(class, userID), e.cfg.Window)
	if err != nil {
		return BanResult{}, err
	}
	if n != int64(e.cfg.Threshold) {
		return BanResult{Count: n}, nil
	}

	logger := log.WithFields(log.Fields{
		"user_id": userID,
		"class":   class,
		"count":   n,
	})

	// порог в другом классе, пока временный бан ещё идёт, не эскалирует
	current, err := e.activeBan(ctx, userID)
	if err != nil {
		return BanResult{}, err
	}
	if current.Banned {
		logger.Debug("[ANTISPAM] Порог во время действующего бана")
		return BanResult{Count: n, Banned: true, Permanent: current.Permanent, Until: current.Until}, nil
	}

	escalated, err := e.store.HasMark(ctx, markKey(userID))
	if err != nil {
		return BanResult{}, err
	}

	if escalated {
		note := "BAN PERMANENT: повторный спам"
		if err := e.wallets.SetStatus(ctx, userID, username, wallet.StatusBanned, nil, note); err != nil {
			return BanResult{}, err
		}
		if err := e.store.SetMark(ctx, markKey(userID), e.cfg.PermanentMarkTTL); err != nil {
			logger.WithError(err).Warn("[ANTISPAM] Не удалось обновить метку")
		}
		logger.Warn("[ANTISPAM] Перманентный бан")
		e.notifyAdmin(ctx, fmt.Sprintf(
			"🔨 Перманентный бан за спам\n👤 %d @%s\n🔢 Нарушений: %d (%s)",
			userID, orNA(username), n, class,
		))
		return BanResult{Count: n, Banned: true, Permanent: true}, nil
	}

	until := e.now().Add(e.cfg.BanDuration)
	note := "BAN 1H до " + until.In(e.cfg.Location).Format("2006-01-02 15:04")
	if err := e.wallets.SetStatus(ctx, userID, username, wallet.StatusBan1h, &until, note); err != nil {
		return BanResult{}, err
	}
	if err := e.store.SetMark(ctx, markKey(userID), e.cfg.EscalationTTL); err != nil {
		logger.WithError(err).Warn("[ANTISPAM] Не удалось поставить метку эскалации")
	}
	logger.WithField("until", until).Warn("[ANTISPAM] Временный бан")
	e.notifyAdmin(ctx, fmt.Sprintf(
		"⏳ Бан на %s за спам\n👤 %d @%s\n🔢 Нарушений: %d (%s)\n⏰ До: %s",
		e.cfg.BanDuration, userID, orNA(username), n, class,
		until.In(e.cfg.Location).Format("2006-01-02 15:04"),
	))
	return BanResult{Count: n, Banned: true, Until: &until}, nil
}

// CheckBan читает статус из кошелька. Истёкший временный бан снимается здесь же.
func (e *Engine) CheckBan(ctx context.Context, userID int64) (BanStatus, error) {
	w, err := e.wallets.Get(ctx, userID)
	if err != nil {
		return BanStatus{}, err
	}
	if w == nil {
		return BanStatus{}, nil
	}

	switch {
	case w.Status.IsPermanentBan():
		return BanStatus{Banned: true, Permanent: true, Status: w.Status}, nil

	case w.Status == wallet.StatusBan1h:
		if w.BanUntil != nil && e.now().Before(*w.BanUntil) {
			return BanStatus{Banned: true, Status: w.Status, Until: w.BanUntil}, nil
		}
		lifted, err := e.wallets.LiftIfExpired(ctx, userID, "Бан снят автоматически")
		if err != nil {
			return BanStatus{}, err
		}
		if lifted {
			log.WithField("user_id", userID).Info("[ANTISPAM] Временный бан истёк и снят")
		}
		return BanStatus{Status: wallet.StatusActive}, nil
	}

	return BanStatus{Status: w.Status}, nil
}

// activeBan — действующий бан без ленивого снятия.
func (e *Engine) activeBan(ctx context.Context, userID int64) (BanStatus, error) {
	w, err := e.wallets.Get(ctx, userID)
	if err != nil || w == nil {
		return BanStatus{}, err
	}
	switch {
	case w.Status.IsPermanentBan():
		return BanStatus{Banned: true, Permanent: true, Status: w.Status}, nil
	case w.Status == wallet.StatusBan1h && w.BanUntil != nil && e.now().Before(*w.BanUntil):
		return BanStatus{Banned: true, Status: w.Status, Until: w.BanUntil}, nil
	}
	return BanStatus{Status: w.Status}, nil
}

// BanText — сообщение забаненному пользователю.
func (e *Engine) BanText(st BanStatus) string {
	if st.Permanent {
		return "⛔ Аккаунт заблокирован навсегда"
	}
	if st.Until != nil {
		return "⛔ Аккаунт временно заблокирован до " + st.Until.In(e.cfg.Location).Format("2006-01-02 15:04")
	}
	return "⛔ Аккаунт временно заблокирован"
}

func (e *Engine) notifyAdmin(ctx context.Context, text string) {
	if e.cfg.AdminID == 0 || e.notifier == nil {
		return
	}
	e.notifier.Send(ctx, e.cfg.AdminID, text)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
