package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/wallet-bot/internal/db/postgres"
)

// Repository читает processed_tx и пишет/читает usage_log.
type Repository struct{}

// NewRepository создаёт репозиторий отчётов.
func NewRepository() *Repository {
	return &Repository{}
}

// RecordUsage добавляет строку в журнал использования.
func (r *Repository) RecordUsage(ctx context.Context, q postgres.Querier, u Usage) error {
	_, err := q.Exec(ctx, `
		INSERT INTO usage_log (tele_id, item, saved, total, price, source)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.UserID, u.Item, u.Saved, u.Total, u.Price, u.Source)
	if err != nil {
		return fmt.Errorf("ошибка записи журнала: %w", err)
	}
	return nil
}

// DailyStats считает итоги за [from, to).
func (r *Repository) DailyStats(ctx context.Context, q postgres.Querier, from, to time.Time) (DailyStats, error) {
	stats := DailyStats{Day: from}

	err := q.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT tele_id), COALESCE(SUM(amount), 0), COALESCE(SUM(bonus), 0)
		FROM processed_tx
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&stats.TopupCount, &stats.TopupUsers, &stats.TopupAmount, &stats.TopupBonus)
	if err != nil {
		return DailyStats{}, fmt.Errorf("ошибка подсчёта пополнений: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT item, SUM(saved)::BIGINT AS count
		FROM usage_log
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY item
		ORDER BY count DESC, item
	`, from, to)
	if err != nil {
		return DailyStats{}, fmt.Errorf("ошибка подсчёта ваучеров: %w", err)
	}
	stats.Vouchers, err = pgx.CollectRows(rows, pgx.RowToStructByName[VoucherCount])
	if err != nil {
		return DailyStats{}, fmt.Errorf("ошибка чтения ваучеров: %w", err)
	}

	err = q.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT tele_id FROM processed_tx WHERE created_at >= $1 AND created_at < $2
			UNION
			SELECT tele_id FROM usage_log WHERE created_at >= $1 AND created_at < $2
		) active
	`, from, to).Scan(&stats.ActiveUsers)
	if err != nil {
		return DailyStats{}, fmt.Errorf("ошибка подсчёта активных: %w", err)
	}
	return stats, nil
}
