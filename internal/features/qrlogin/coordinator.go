// Package qrlogin ведёт сессии QR-входа во внешний сервис.
// На каждую сессию запускается один наблюдатель, который опрашивает провайдера
// до успеха, отмены или таймаута. Плата за вход списывается только после успешного сканирования.
package qrlogin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/features/antispam"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// CancelPrefix — префикс callback-данных кнопки отмены.
const CancelPrefix = "qr_cancel:"

// Ledger — списание платы и возврат по токену.
type Ledger interface {
	Debit(ctx context.Context, userID, amount int64, reason string) (wallet.DebitResult, error)
	Refund(ctx context.Context, token wallet.ReversalToken, amount int64, reason string) (int64, error)
}

// BanChecker — проверка бана перед созданием сессии.
type BanChecker interface {
	CheckBan(ctx context.Context, userID int64) (antispam.BanStatus, error)
}

// Failures — счётчик неудачных QR-входов.
type Failures interface {
	RecordFailure(ctx context.Context, userID int64, username string) (int, bool, error)
	Reset(userID int64)
	Count(userID int64) int
}

// CredentialSink сохраняет полученный cookie для быстрых покупок.
type CredentialSink interface {
	SaveCredential(userID int64, cookie string)
}

// Options — тайминги и плата.
type Options struct {
	Fee            int64
	PollInterval   time.Duration
	Timeout        time.Duration
	StartDelay     time.Duration
	RequestTimeout time.Duration
	MaxFailures    int
	WarnFrom       int
	Now            func() time.Time
}

// Coordinator создаёт сессии и запускает наблюдателей.
type Coordinator struct {
	provider Provider
	sessions *Sessions
	ledger   Ledger
	bans     BanChecker
	failures Failures
	notifier notify.Notifier
	sink     CredentialSink
	opts     Options
}

// NewCoordinator собирает координатор. sink может быть nil.
func NewCoordinator(provider Provider, ledger Ledger, bans BanChecker, failures Failures, notifier notify.Notifier, sink CredentialSink, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.WarnFrom <= 0 {
		opts.WarnFrom = 3
	}
	return &Coordinator{
		provider: provider,
		sessions: NewSessions(),
		ledger:   ledger,
		bans:     bans,
		failures: failures,
		notifier: notifier,
		sink:     sink,
		opts:     opts,
	}
}

// Create открывает сессию у провайдера и запускает наблюдателя.
// Для забаненного пользователя провайдер не вызывается.
func (c *Coordinator) Create(ctx context.Context, userID, chatID int64, username string) (Session, error) {
	st, err := c.bans.CheckBan(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if st.Banned {
		return Session{}, common.ErrBanned
	}

	sessionID, payload, err := c.provider.CreateSession(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("[QR] Не удалось создать сессию")
		if _, _, ferr := c.failures.RecordFailure(ctx, userID, username); ferr != nil {
			log.WithError(ferr).WithField("user_id", userID).Error("[QR] Не удалось записать неудачу")
		}
		return Session{}, err
	}

	s := Session{
		ID:        sessionID,
		UserID:    userID,
		ChatID:    chatID,
		Username:  username,
		CreatedAt: c.opts.Now(),
		State:     StateWaiting,
		Payload:   payload,
	}
	c.sessions.Put(s)

	log.WithFields(log.Fields{
		"user_id":    userID,
		"session_id": sessionID,
	}).Info("[QR] Сессия создана")

	go c.watch(s)
	return s, nil
}

// Cancel помечает сессию отменённой. Наблюдатель заметит это на следующем тике.
func (c *Coordinator) Cancel(sessionID string) bool {
	ok := c.sessions.MarkCancelled(sessionID)
	if ok {
		log.WithField("session_id", sessionID).Info("[QR] Сессия отменена")
	}
	return ok
}

// Lookup возвращает сессию, если она ещё в таблице.
func (c *Coordinator) Lookup(sessionID string) (Session, bool) {
	return c.sessions.Get(sessionID)
}

// Active — число сессий в таблице.
func (c *Coordinator) Active() int {
	return c.sessions.Len()
}

func (c *Coordinator) watch(s Session) {
	logger := log.WithFields(log.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
	})
	deadline := s.CreatedAt.Add(c.opts.Timeout)

	if c.opts.StartDelay > 0 {
		time.Sleep(c.opts.StartDelay)
	}

	lastState := ""
	for checks := 1; c.opts.Now().Before(deadline); checks++ {
		if !c.sessions.Waiting(s.ID) {
			c.sessions.Delete(s.ID)
			logger.Debug("[QR] Сессия отменена или удалена, наблюдатель завершён")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		st, err := c.provider.PollStatus(ctx, s.ID)
		cancel()
		if err != nil {
			logger.WithError(err).Debug("[QR] Ошибка опроса, повторим")
			time.Sleep(c.opts.PollInterval)
			continue
		}
		if st.State != lastState {
			logger.WithFields(log.Fields{"check": checks, "state": st.State}).Debug("[QR] Статус изменился")
			lastState = st.State
		}

		if st.HasToken {
			c.complete(s)
			return
		}
		time.Sleep(c.opts.PollInterval)
	}

	c.expire(s)
}

// complete списывает плату и только после этого забирает cookie.
func (c *Coordinator) complete(s Session) {
	logger := log.WithFields(log.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
	})
	if !c.sessions.Claim(s.ID) {
		c.sessions.Delete(s.ID)
		logger.Info("[QR] Отмена пришла во время опроса, плата не списана")
		return
	}
	defer c.sessions.Delete(s.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.opts.RequestTimeout)
	defer cancel()

	var res wallet.DebitResult
	if c.opts.Fee > 0 {
		var err error
		res, err = c.ledger.Debit(ctx, s.UserID, c.opts.Fee, "GET_QR")
		if err != nil {
			logger.WithError(err).Error("[QR] Ошибка списания платы")
			c.notifier.Send(ctx, s.ChatID, "❌ Не удалось списать плату, попробуйте позже")
			return
		}
		if !res.OK {
			logger.WithField("balance", res.Balance).Info("[QR] Недостаточно средств")
			c.notifier.Send(ctx, s.ChatID, fmt.Sprintf(
				"❌ Недостаточно средств\n💰 Нужно: %s\n💼 Баланс: %s\nПополните баланс, чтобы получить cookie",
				common.FormatMoney(c.opts.Fee), common.FormatMoney(res.Balance),
			))
			return
		}
	}

	cred, err := c.provider.FetchCredential(ctx, s.ID)
	if err != nil {
		logger.WithError(err).Warn("[QR] Не удалось получить cookie")
		balance := res.Balance
		if res.OK {
			if b, rerr := c.ledger.Refund(ctx, res.Token, c.opts.Fee, "GET_QR_REFUND"); rerr != nil {
				logger.WithError(rerr).Error("[QR] Не удалось вернуть плату")
			} else {
				balance = b
			}
		}
		c.recordFailure(ctx, s)
		c.notifier.Send(ctx, s.ChatID, fmt.Sprintf(
			"❌ Ошибка получения cookie\n↩️ Плата возвращена\n💼 Баланс: %s", common.FormatMoney(balance),
		))
		return
	}

	if c.sink != nil {
		c.sink.SaveCredential(s.UserID, cred.Cookie)
	}
	c.failures.Reset(s.UserID)
	c.notifier.Send(ctx, s.ChatID, credentialText(cred, c.opts.Fee, res.Balance))
	logger.Info("[QR] Вход выполнен")
}

func (c *Coordinator) expire(s Session) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()

	waiting := c.sessions.Waiting(s.ID)
	c.sessions.Delete(s.ID)
	if !waiting {
		return
	}
	log.WithFields(log.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
	}).Info("[QR] Таймаут сессии")

	if c.recordFailure(ctx, s) {
		return
	}
	text := fmt.Sprintf("⏰ Время вышло\nQR-код истёк (%s). Запросите новый", c.opts.Timeout)
	if n := c.failures.Count(s.UserID); n >= c.opts.WarnFrom {
		text += fmt.Sprintf("\n\n⚠️ Предупреждение: %d/%d неудач", n, c.opts.MaxFailures)
	}
	c.notifier.Send(ctx, s.ChatID, text)
}

// recordFailure засчитывает неудачу и сообщает о бане. true если пользователь забанен.
func (c *Coordinator) recordFailure(ctx context.Context, s Session) bool {
	_, banned, err := c.failures.RecordFailure(ctx, s.UserID, s.Username)
	if err != nil {
		log.WithError(err).WithField("user_id", s.UserID).Error("[QR] Не удалось записать неудачу")
		return false
	}
	if banned {
		c.notifier.Send(ctx, s.ChatID, "🚫 Аккаунт заблокирован навсегда\nПричина: слишком много неудачных QR-входов")
	}
	return banned
}

func credentialText(cred Credential, fee, balance int64) string {
	var b strings.Builder
	b.WriteString("🎉 Cookie получен!\n\n")
	if fee > 0 {
		fmt.Fprintf(&b, "💸 Списано: %s\n💼 Баланс: %s\n\n", common.FormatMoney(fee), common.FormatMoney(balance))
	}
	if cred.SPCST != "" {
		fmt.Fprintf(&b, "🍪 Cookie ST:\nSPC_ST=%s\n\n", cred.SPCST)
	} else {
		b.WriteString("⚠️ Cookie ST не найден\n\n")
	}
	if cred.SPCF != "" {
		f := cred.SPCF
		if cred.Username != "" {
			f += " | " + cred.Username
		}
		if cred.Phone != "" {
			f += " | " + cred.Phone
		}
		fmt.Fprintf(&b, "🔐 Cookie F:\nSPC_F=%s\n\n", f)
	} else {
		b.WriteString("⚠️ Cookie F не найден\n\n")
	}
	b.WriteString("⚠️ Никому не передавайте эти данные")
	return b.String()
}

// ParseCancelData достаёт id сессии из callback-данных.
func ParseCancelData(data string) (string, bool) {
	if !strings.HasPrefix(data, CancelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(data, CancelPrefix)
	return id, id != ""
}

// IsBanned — ошибка Create из-за бана.
func IsBanned(err error) bool {
	return errors.Is(err, common.ErrBanned)
}
