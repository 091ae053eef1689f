// Package wallet — repository.go выполняет все операции с таблицей wallet.
// Баланс меняется только одиночными условными UPDATE: сериализацию
// по строке обеспечивает PostgreSQL, блокировок в приложении нет.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/wallet-bot/internal/db/postgres"
)

// Repository предоставляет методы для работы с кошельками.
// Каждый метод принимает Querier: пул или открытую транзакцию.
type Repository struct{}

// NewRepository создаёт новый репозиторий кошельков.
func NewRepository() *Repository {
	return &Repository{}
}

const walletColumns = `tele_id, username, balance, status, notes, ban_until, gift, tool_pass_hash, created_at, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(
		&w.TeleID, &w.Username, &w.Balance, &w.Status, &w.Notes,
		&w.BanUntil, &w.Gift, &w.ToolPassHash, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Ensure создаёт кошелёк (new, 0), если его нет.
// Имя перезаписывается только непустым и отличающимся значением.
func (r *Repository) Ensure(ctx context.Context, q postgres.Querier, userID int64, username string) (bool, error) {
	// xmax = 0 только у только что вставленной строки; если UPDATE
	// отфильтрован WHERE, строки нет вовсе
	var created bool
	err := q.QueryRow(ctx, `
		INSERT INTO wallet (tele_id, username)
		VALUES ($1, $2)
		ON CONFLICT (tele_id) DO UPDATE
		SET username = EXCLUDED.username, updated_at = NOW()
		WHERE EXCLUDED.username <> '' AND wallet.username IS DISTINCT FROM EXCLUDED.username
		RETURNING (xmax = 0)
	`, userID, username).Scan(&created)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка создания кошелька: %w", err)
	}
	return created, nil
}

// Get возвращает кошелёк или nil, если его нет.
func (r *Repository) Get(ctx context.Context, q postgres.Querier, userID int64) (*Wallet, error) {
	w, err := scanWallet(q.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallet WHERE tele_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения кошелька: %w", err)
	}
	return w, nil
}

// Balance читает баланс напрямую из БД. Нет кошелька — 0.
func (r *Repository) Balance(ctx context.Context, q postgres.Querier, userID int64) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM wallet WHERE tele_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return balance, nil
}

// Credit прибавляет delta к балансу одним upsert-ом и возвращает новый баланс.
// Результат не опускается ниже нуля.
func (r *Repository) Credit(ctx context.Context, q postgres.Querier, userID, delta int64) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `
		INSERT INTO wallet (tele_id, balance)
		VALUES ($1, GREATEST($2::BIGINT, 0))
		ON CONFLICT (tele_id) DO UPDATE
		SET balance = GREATEST(wallet.balance + $2::BIGINT, 0), updated_at = NOW()
		RETURNING balance
	`, userID, delta).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("ошибка начисления: %w", err)
	}
	return balance, nil
}

// Debit списывает amount, только если хватает средств.
// ok=false — строка не обновилась (мало денег или кошелька нет).
func (r *Repository) Debit(ctx context.Context, q postgres.Querier, userID, amount int64) (int64, bool, error) {
	var balance int64
	err := q.QueryRow(ctx, `
		UPDATE wallet
		SET balance = balance - $2, updated_at = NOW()
		WHERE tele_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ошибка списания: %w", err)
	}
	return balance, true, nil
}

// ClaimGift начисляет подарок и активирует кошелёк одним условным UPDATE.
// Два одновременных вызова не могут оба пройти условие по статусу.
func (r *Repository) ClaimGift(ctx context.Context, q postgres.Querier, userID, amount int64, note string) (int64, bool, error) {
	var balance int64
	err := q.QueryRow(ctx, `
		UPDATE wallet
		SET balance = balance + $2, status = 'active', gift = $3, notes = $4, updated_at = NOW()
		WHERE tele_id = $1 AND status IN ('', 'new', 'pending')
		RETURNING balance
	`, userID, amount, GiftStatusClaimed, note).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ошибка выдачи подарка: %w", err)
	}
	return balance, true, nil
}

// SetStatus выставляет статус и срок бана. Кошелёк создаётся, если его нет.
// Пустой note не затирает старую заметку.
func (r *Repository) SetStatus(ctx context.Context, q postgres.Querier, userID int64, status Status, banUntil *time.Time, note string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO wallet (tele_id, status, ban_until, notes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tele_id) DO UPDATE
		SET status = EXCLUDED.status,
		    ban_until = EXCLUDED.ban_until,
		    notes = CASE WHEN EXCLUDED.notes <> '' THEN EXCLUDED.notes ELSE wallet.notes END,
		    updated_at = NOW()
	`, userID, string(status), banUntil, note)
	if err != nil {
		return fmt.Errorf("ошибка смены статуса: %w", err)
	}
	return nil
}

// LiftIfExpired снимает временный бан, если срок истёк (или не записан).
// Возвращает true, если именно этот вызов снял бан.
func (r *Repository) LiftIfExpired(ctx context.Context, q postgres.Querier, userID int64, now time.Time, note string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE wallet
		SET status = 'active', ban_until = NULL, notes = $3, updated_at = NOW()
		WHERE tele_id = $1 AND status = 'ban_1h' AND (ban_until IS NULL OR ban_until <= $2)
	`, userID, now, note)
	if err != nil {
		return false, fmt.Errorf("ошибка снятия бана: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LiftExpired снимает все истёкшие временные баны и возвращает их id.
func (r *Repository) LiftExpired(ctx context.Context, q postgres.Querier, now time.Time, note string) ([]int64, error) {
	rows, err := q.Query(ctx, `
		UPDATE wallet
		SET status = 'active', ban_until = NULL, notes = $2, updated_at = NOW()
		WHERE status = 'ban_1h' AND (ban_until IS NULL OR ban_until <= $1)
		RETURNING tele_id
	`, now, note)
	if err != nil {
		return nil, fmt.Errorf("ошибка массового снятия банов: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения снятых банов: %w", err)
	}
	return ids, nil
}

// ListRecipients — все, кого можно включать в рассылку.
func (r *Repository) ListRecipients(ctx context.Context, q postgres.Querier) ([]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT tele_id FROM wallet
		WHERE status NOT IN ('banned', 'banned_qr_spam')
		ORDER BY tele_id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения получателей: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения получателей: %w", err)
	}
	return ids, nil
}

// SetToolPassHash сохраняет хеш пароля для клиента на ПК.
func (r *Repository) SetToolPassHash(ctx context.Context, q postgres.Querier, userID int64, hash string) error {
	tag, err := q.Exec(ctx, `
		UPDATE wallet SET tool_pass_hash = $2, updated_at = NOW() WHERE tele_id = $1
	`, userID, hash)
	if err != nil {
		return fmt.Errorf("ошибка сохранения пароля: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("кошелёк %d не найден", userID)
	}
	return nil
}
