// Package topup — service.go: алгоритм зачисления платежа.
package topup

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/db/postgres"
	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// Service — идемпотентный приёмник платежей.
type Service struct {
	pool      *pgxpool.Pool
	repo      *Repository
	wallets   *wallet.Repository
	bus       events.Publisher
	notifier  notify.Notifier
	minAmount int64
	tiers     []BonusTier
}

// NewService создаёт приёмник платежей.
func NewService(pool *pgxpool.Pool, repo *Repository, wallets *wallet.Repository, bus events.Publisher, notifier notify.Notifier, minAmount int64) *Service {
	return &Service{
		pool:      pool,
		repo:      repo,
		wallets:   wallets,
		bus:       bus,
		notifier:  notifier,
		minAmount: minAmount,
		tiers:     DefaultBonusTiers,
	}
}

// Ingest обрабатывает один платёж.
// Бизнес-отказы возвращаются как Outcome без ошибки,
// ошибка — только если не удалось достучаться до БД.
func (s *Service) Ingest(ctx context.Context, p Payment) (Result, error) {
	p.TxID = strings.TrimSpace(p.TxID)
	logger := log.WithFields(log.Fields{"tx_id": p.TxID, "amount": p.Amount})

	if p.TxID == "" || p.Amount <= 0 {
		logger.Warn("[TOPUP] Некорректный платёж")
		return Result{Outcome: OutcomeInvalid}, nil
	}

	exists, err := s.repo.Exists(ctx, s.pool, p.TxID)
	if err != nil {
		return Result{}, err
	}
	if exists {
		logger.Info("[TOPUP] Повторная транзакция")
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	userID, ok := ParseUserID(p.Memo)
	if !ok {
		logger.WithField("memo", p.Memo).Warn("[TOPUP] Пользователь не найден в назначении")
		return Result{Outcome: OutcomeNoUser}, nil
	}
	logger = logger.WithField("user_id", userID)

	if p.Amount < s.minAmount {
		logger.Info("[TOPUP] Сумма меньше минимальной")
		s.notifier.Send(ctx, userID, fmt.Sprintf("❌ Минимальное пополнение: %s", common.FormatMoney(s.minAmount)))
		return Result{Outcome: OutcomeTooSmall, UserID: userID, Amount: p.Amount}, nil
	}

	percent, bonus := CalcBonus(s.tiers, p.Amount)
	res := Result{Outcome: OutcomeCredited, UserID: userID, Amount: p.Amount, Bonus: bonus}

	// Запись транзакции и начисление — одна транзакция БД.
	// Если tx_id уже записан конкурентным запросом, INSERT вернёт 0 строк.
	err = postgres.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		inserted, err := s.repo.Insert(ctx, tx, Record{TxID: p.TxID, TeleID: userID, Amount: p.Amount, Bonus: bonus})
		if err != nil {
			return err
		}
		if !inserted {
			res = Result{Outcome: OutcomeDuplicate}
			return nil
		}
		balance, err := s.wallets.Credit(ctx, tx, userID, p.Amount+bonus)
		if err != nil {
			return err
		}
		res.Balance = balance
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("ошибка зачисления %s: %w", p.TxID, err)
	}
	if res.Outcome == OutcomeDuplicate {
		logger.Info("[TOPUP] Транзакция уже зачислена параллельным запросом")
		return res, nil
	}

	logger.WithFields(log.Fields{
		"bonus":   bonus,
		"percent": percent,
		"balance": res.Balance,
	}).Info("[TOPUP] Пополнение зачислено")

	s.bus.Emit(ctx, events.TopupCredited{
		UserID: userID, TxID: p.TxID, Amount: p.Amount, Bonus: bonus, NewBalance: res.Balance,
	})
	s.bus.Emit(ctx, events.BalanceChanged{
		UserID: userID, Delta: p.Amount + bonus, NewBalance: res.Balance, Reason: "topup",
	})
	s.notifier.Send(ctx, userID, successText(res))
	return res, nil
}

// MinAmount — минимальная сумма пополнения.
func (s *Service) MinAmount() int64 {
	return s.minAmount
}

// History — последние пополнения пользователя.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.History(ctx, s.pool, userID, limit)
}

func successText(r Result) string {
	var sb strings.Builder
	sb.WriteString("💰 Пополнение зачислено\n")
	sb.WriteString(fmt.Sprintf("➕ Сумма: %s\n", common.FormatMoney(r.Amount)))
	if r.Bonus > 0 {
		sb.WriteString(fmt.Sprintf("🎁 Бонус: %s\n", common.FormatMoney(r.Bonus)))
	}
	sb.WriteString(fmt.Sprintf("💼 Баланс: %s", common.FormatMoney(r.Balance)))
	return sb.String()
}
