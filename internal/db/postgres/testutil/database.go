// Package testutil поднимает PostgreSQL в контейнере для интеграционных тестов.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"serotonyl.ru/wallet-bot/internal/db/postgres"
)

// TestDatabase — контейнер с применёнными миграциями и открытый пул.
type TestDatabase struct {
	Container *tcpostgres.PostgresContainer
	Pool      *pgxpool.Pool
	URL       string
}

// SetupTestDatabase запускает postgres:16-alpine, применяет миграции
// и регистрирует очистку через t.Cleanup.
// Под -short тест пропускается: Docker нужен не везде.
func SetupTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	if testing.Short() {
		t.Skip("интеграционный тест с PostgreSQL пропущен в -short режиме")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("wallet_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		tcpostgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{
			"test":      "wallet-bot",
			"test-name": t.Name(),
		}),
	)
	require.NoError(t, err)

	tdb := &TestDatabase{Container: container}
	t.Cleanup(func() { tdb.cleanup(t) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	tdb.URL = url

	require.NoError(t, postgres.RunMigrations(url))

	pool, err := postgres.NewPool(ctx, postgres.PoolOptions{DSN: url, MaxConns: 20})
	require.NoError(t, err)
	tdb.Pool = pool

	return tdb
}

func (td *TestDatabase) cleanup(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Logf("паника при очистке контейнера (восстановлено): %v", r)
		}
	}()

	if td.Pool != nil {
		td.Pool.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if td.Container != nil {
		if err := td.Container.Terminate(ctx); err != nil {
			t.Logf("не удалось остановить контейнер: %v", err)
		}
	}
}
