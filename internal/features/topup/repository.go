// Package topup — repository.go работает с таблицей processed_tx.
package topup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/wallet-bot/internal/db/postgres"
)

// Repository хранит обработанные транзакции провайдера.
type Repository struct{}

// NewRepository создаёт репозиторий пополнений.
func NewRepository() *Repository {
	return &Repository{}
}

// Exists — быстрая проверка дубликата до парсинга назначения.
// Гарантией не является: гарантия — Insert.
func (r *Repository) Exists(ctx context.Context, q postgres.Querier, txID string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_tx WHERE tx_id = $1)`, txID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки транзакции: %w", err)
	}
	return exists, nil
}

// Insert записывает транзакцию. false — такая tx_id уже есть.
func (r *Repository) Insert(ctx context.Context, q postgres.Querier, rec Record) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO processed_tx (tx_id, tele_id, amount, bonus)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tx_id) DO NOTHING
	`, rec.TxID, rec.TeleID, rec.Amount, rec.Bonus)
	if err != nil {
		return false, fmt.Errorf("ошибка записи транзакции: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// History — последние пополнения пользователя.
func (r *Repository) History(ctx context.Context, q postgres.Querier, userID int64, limit int) ([]Record, error) {
	rows, err := q.Query(ctx, `
		SELECT tx_id, tele_id, amount, bonus, created_at
		FROM processed_tx
		WHERE tele_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[Record])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения истории: %w", err)
	}
	return records, nil
}
