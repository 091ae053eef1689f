package shop

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/features/antispam"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
)

// Wallets — операции кошелька, нужные покупке.
type Wallets interface {
	Get(ctx context.Context, userID int64) (*wallet.Wallet, error)
	Debit(ctx context.Context, userID, amount int64, reason string) (wallet.DebitResult, error)
	Refund(ctx context.Context, token wallet.ReversalToken, amount int64, reason string) (int64, error)
}

// BanChecker — проверка бана в начале покупки.
type BanChecker interface {
	CheckBan(ctx context.Context, userID int64) (antispam.BanStatus, error)
}

// Service проводит покупки.
type Service struct {
	catalogue *Catalogue
	redeemer  Redeemer
	wallets   Wallets
	bans      BanChecker
	vault     *Vault
	bus       events.Publisher
	maxCreds  int
	pause     time.Duration
}

// NewService создаёт сервис магазина. vault может быть nil.
// Каждая сохранённая позиция публикуется в bus как VoucherSaved.
func NewService(catalogue *Catalogue, redeemer Redeemer, wallets Wallets, bans BanChecker, vault *Vault, bus events.Publisher, maxCreds int) *Service {
	if maxCreds <= 0 {
		maxCreds = 10
	}
	return &Service{
		catalogue: catalogue,
		redeemer:  redeemer,
		wallets:   wallets,
		bans:      bans,
		vault:     vault,
		bus:       bus,
		maxCreds:  maxCreds,
		pause:     100 * time.Millisecond,
	}
}

// Catalogue возвращает каталог из кеша.
func (s *Service) Catalogue(ctx context.Context) ([]Item, error) {
	return s.catalogue.Items(ctx)
}

// Purchase списывает цену за все пары (аккаунт, ваучер) заранее,
// активирует каждую и возвращает деньги за неудачные одним возвратом по токену.
func (s *Service) Purchase(ctx context.Context, userID int64, itemKey string, credentials []string) (Receipt, error) {
	st, err := s.bans.CheckBan(ctx, userID)
	if err != nil {
		return Receipt{}, err
	}
	if st.Banned {
		return Receipt{}, common.ErrBanned
	}

	w, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return Receipt{}, err
	}
	if w == nil || w.Status != wallet.StatusActive {
		return Receipt{}, common.ErrNotActivated
	}

	if len(credentials) == 0 && s.vault != nil {
		if c, ok := s.vault.Credential(userID); ok {
			credentials = []string{c}
		}
	}
	if len(credentials) == 0 {
		return Receipt{}, common.ErrNoCredentials
	}
	if len(credentials) > s.maxCreds {
		return Receipt{}, common.ErrTooManyCredentials
	}

	items, err := s.catalogue.Find(ctx, itemKey)
	if err != nil {
		return Receipt{}, err
	}

	var perCredential int64
	for _, it := range items {
		perCredential += it.Price
	}
	total := perCredential * int64(len(credentials))
	if total <= 0 {
		return Receipt{}, common.ErrInvalidAmount
	}

	reason := "BUY_" + NormalizeKey(itemKey)
	res, err := s.wallets.Debit(ctx, userID, total, reason)
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{Items: items, Charged: total, Balance: res.Balance}
	if !res.OK {
		return receipt, common.ErrInsufficientBalance
	}

	logger := log.WithFields(log.Fields{
		"user_id": userID,
		"item":    itemKey,
		"total":   total,
	})

	var refund int64
	saved := make([]int, len(items))
	for ci, cred := range credentials {
		for ii, it := range items {
			outcome, err := s.redeemer.Redeem(ctx, cred, it)
			if err != nil {
				logger.WithError(err).WithField("credential", ci+1).Warn("[SHOP] Ошибка активации")
			}
			if outcome == OutcomeOK {
				receipt.Saved++
				saved[ii]++
				continue
			}
			receipt.Failed++
			receipt.Failures = append(receipt.Failures, Failure{Credential: ci + 1, Item: it.Name, Outcome: outcome})
			refund += it.Price
		}
		if ci < len(credentials)-1 && s.pause > 0 {
			time.Sleep(s.pause)
		}
	}

	if refund > 0 {
		balance, err := s.wallets.Refund(ctx, res.Token, refund, reason+"_REFUND")
		if err != nil {
			logger.WithError(err).WithField("refund", refund).Error("[SHOP] Не удалось вернуть деньги")
			return receipt, fmt.Errorf("refund %d: %w", refund, err)
		}
		receipt.Refunded = refund
		receipt.Balance = balance
	}

	for ii, it := range items {
		if saved[ii] == 0 {
			continue
		}
		s.bus.Emit(ctx, events.VoucherSaved{
			UserID: userID,
			Item:   it.Name,
			Saved:  saved[ii],
			Total:  len(credentials),
			Price:  it.Price * int64(saved[ii]),
			Source: "bot",
		})
	}

	logger.WithFields(log.Fields{
		"saved":    receipt.Saved,
		"failed":   receipt.Failed,
		"refunded": receipt.Refunded,
	}).Info("[SHOP] Покупка завершена")
	return receipt, nil
}
