// Package wallet — service.go содержит бизнес-логику кошелька:
// начисления, условные списания с токеном возврата, подарок за активацию
// и пароль для клиента на ПК.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/events"
)

// Service — единственная точка изменения баланса.
type Service struct {
	pool       *pgxpool.Pool
	repo       *Repository
	bus        events.Publisher
	reversals  *reversals
	giftAmount int64
	now        func() time.Time
}

// Options — настройки сервиса кошелька.
type Options struct {
	GiftAmount  int64
	ReversalTTL time.Duration // сколько живёт токен возврата; 0 = 24 часа
	Now         func() time.Time
}

// NewService создаёт сервис кошелька.
func NewService(pool *pgxpool.Pool, repo *Repository, bus events.Publisher, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReversalTTL <= 0 {
		opts.ReversalTTL = 24 * time.Hour
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		bus:        bus,
		reversals:  newReversals(opts.ReversalTTL, opts.Now),
		giftAmount: opts.GiftAmount,
		now:        opts.Now,
	}
}

// EnsureWallet гарантирует, что у пользователя есть кошелёк.
// Новый кошелёк публикует WalletCreated.
func (s *Service) EnsureWallet(ctx context.Context, userID int64, username string) error {
	created, err := s.repo.Ensure(ctx, s.pool, userID, username)
	if err != nil {
		return err
	}
	if created {
		log.WithFields(log.Fields{"user_id": userID, "username": username}).Info("Новый кошелёк")
		s.bus.Emit(ctx, events.WalletCreated{UserID: userID, Username: username})
	}
	return nil
}

// Get возвращает кошелёк целиком (nil, если его нет).
func (s *Service) Get(ctx context.Context, userID int64) (*Wallet, error) {
	return s.repo.Get(ctx, s.pool, userID)
}

// ReadBalance всегда читает из БД, без кеша.
func (s *Service) ReadBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.Balance(ctx, s.pool, userID)
}

// Credit начисляет amount и возвращает новый баланс.
func (s *Service) Credit(ctx context.Context, userID, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}
	balance, err := s.repo.Credit(ctx, s.pool, userID, amount)
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"amount":  amount,
		"balance": balance,
		"reason":  reason,
	}).Info("Начисление")
	s.emitBalance(ctx, userID, amount, balance, reason)
	return balance, nil
}

// Debit списывает amount, только если средств достаточно.
// Нехватка денег — не ошибка: OK=false и текущий баланс.
func (s *Service) Debit(ctx context.Context, userID, amount int64, reason string) (DebitResult, error) {
	if amount <= 0 {
		return DebitResult{}, common.ErrInvalidAmount
	}

	balance, ok, err := s.repo.Debit(ctx, s.pool, userID, amount)
	if err != nil {
		return DebitResult{}, err
	}
	if !ok {
		current, err := s.repo.Balance(ctx, s.pool, userID)
		if err != nil {
			return DebitResult{}, err
		}
		log.WithFields(log.Fields{
			"user_id": userID,
			"amount":  amount,
			"balance": current,
			"reason":  reason,
		}).Info("Списание отклонено: недостаточно средств")
		return DebitResult{OK: false, Balance: current}, nil
	}

	token := s.reversals.issue(userID, amount)
	log.WithFields(log.Fields{
		"user_id": userID,
		"amount":  amount,
		"balance": balance,
		"reason":  reason,
	}).Info("Списание")
	s.emitBalance(ctx, userID, -amount, balance, reason)
	return DebitResult{OK: true, Balance: balance, Token: token}, nil
}

// Refund возвращает часть или всё списание, выданное токеном.
// Суммарно по одному токену нельзя вернуть больше, чем было списано.
func (s *Service) Refund(ctx context.Context, token ReversalToken, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}

	userID, granted, err := s.reversals.take(token, amount)
	if err != nil {
		return 0, err
	}

	balance, err := s.repo.Credit(ctx, s.pool, userID, granted)
	if err != nil {
		// Начисление не прошло — резерв возвращаем, чтобы можно было повторить
		s.reversals.restore(token, granted)
		return 0, err
	}

	log.WithFields(log.Fields{
		"user_id":   userID,
		"requested": amount,
		"refunded":  granted,
		"balance":   balance,
		"reason":    reason,
	}).Info("Возврат")
	s.emitBalance(ctx, userID, granted, balance, reason)
	return balance, nil
}

// ClaimGift выдаёт одноразовый подарок за активацию и переводит кошелёк в active.
func (s *Service) ClaimGift(ctx context.Context, userID int64, username string) (int64, error) {
	if err := s.EnsureWallet(ctx, userID, username); err != nil {
		return 0, err
	}

	note := fmt.Sprintf("Активация + подарок %s", common.FormatMoney(s.giftAmount))
	balance, ok, err := s.repo.ClaimGift(ctx, s.pool, userID, s.giftAmount, note)
	if err != nil {
		return 0, err
	}
	if !ok {
		w, err := s.repo.Get(ctx, s.pool, userID)
		if err != nil {
			return 0, err
		}
		if w != nil && w.Status == StatusActive {
			return 0, common.ErrAlreadyActive
		}
		return 0, common.ErrGiftNotAllowed
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"gift":    s.giftAmount,
		"balance": balance,
	}).Info("Кошелёк активирован, подарок выдан")
	s.emitBalance(ctx, userID, s.giftAmount, balance, "gift")
	s.bus.Emit(ctx, events.StatusChanged{UserID: userID, Username: username, Status: string(StatusActive), Note: note})
	return balance, nil
}

// SetStatus меняет статус кошелька. Вызывается только антиспамом и админом.
func (s *Service) SetStatus(ctx context.Context, userID int64, username string, status Status, banUntil *time.Time, note string) error {
	if err := s.repo.SetStatus(ctx, s.pool, userID, status, banUntil, note); err != nil {
		return err
	}
	s.bus.Emit(ctx, events.StatusChanged{UserID: userID, Username: username, Status: string(status), Note: note})
	return nil
}

// LiftIfExpired снимает истёкший временный бан. true — бан снят этим вызовом.
func (s *Service) LiftIfExpired(ctx context.Context, userID int64, note string) (bool, error) {
	lifted, err := s.repo.LiftIfExpired(ctx, s.pool, userID, s.now(), note)
	if err != nil {
		return false, err
	}
	if lifted {
		s.bus.Emit(ctx, events.StatusChanged{UserID: userID, Status: string(StatusActive), Note: note})
	}
	return lifted, nil
}

// LiftExpiredBans снимает все истёкшие временные баны.
func (s *Service) LiftExpiredBans(ctx context.Context, note string) ([]int64, error) {
	ids, err := s.repo.LiftExpired(ctx, s.pool, s.now(), note)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.bus.Emit(ctx, events.StatusChanged{UserID: id, Status: string(StatusActive), Note: note})
	}
	return ids, nil
}

// ListRecipients — получатели рассылки (все, кроме перманентно забаненных).
func (s *Service) ListRecipients(ctx context.Context) ([]int64, error) {
	return s.repo.ListRecipients(ctx, s.pool)
}

// RegenerateToolPassword создаёт новый пароль для клиента на ПК.
// Открытый пароль возвращается один раз, в БД хранится только хеш.
func (s *Service) RegenerateToolPassword(ctx context.Context, userID int64, username string) (string, error) {
	if err := s.EnsureWallet(ctx, userID, username); err != nil {
		return "", err
	}
	plain, err := generateToolPassword()
	if err != nil {
		return "", err
	}
	hash, err := hashArgon2id(plain)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetToolPassHash(ctx, s.pool, userID, hash); err != nil {
		return "", err
	}
	log.WithField("user_id", userID).Info("Пароль клиента обновлён")
	return plain, nil
}

// VerifyToolPassword проверяет пароль клиента.
// Если пароль ещё не выдавался, доступ открыт.
func (s *Service) VerifyToolPassword(ctx context.Context, userID int64, plain string) (bool, error) {
	w, err := s.repo.Get(ctx, s.pool, userID)
	if err != nil {
		return false, err
	}
	if w == nil {
		return false, common.ErrWalletNotFound
	}
	if w.ToolPassHash == "" {
		return true, nil
	}
	return verifyArgon2id(plain, w.ToolPassHash), nil
}

// CleanupReversals удаляет просроченные токены возврата.
func (s *Service) CleanupReversals() int {
	return s.reversals.cleanup()
}

func (s *Service) emitBalance(ctx context.Context, userID, delta, balance int64, reason string) {
	s.bus.Emit(ctx, events.BalanceChanged{
		UserID:     userID,
		Delta:      delta,
		NewBalance: balance,
		Reason:     reason,
	})
}

// IsRefundExhausted — удобная проверка для вызывающих.
func IsRefundExhausted(err error) bool {
	return errors.Is(err, common.ErrRefundExhausted)
}
