// toolpass — выдаёт пользователю новый пароль клиента на ПК в обход бота.
// Запуск: go run ./cmd/toolpass <tele_id>
//
// В БД сохраняется только Argon2id хеш, открытый пароль печатается один раз.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/config"
	"serotonyl.ru/wallet-bot/internal/db/postgres"
	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Использование: go run ./cmd/toolpass <tele_id>")
		os.Exit(1)
	}
	userID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || userID <= 0 {
		fmt.Printf("Некорректный tele_id: %q\n", os.Args[1])
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, postgres.PoolOptions{DSN: cfg.DatabaseDSN(), MaxConns: 2})
	if err != nil {
		log.WithError(err).Fatal("Не удалось подключиться к БД")
	}
	defer pool.Close()

	// событий тут нет подписчиков, шина нужна только сервису
	svc := wallet.NewService(pool, wallet.NewRepository(), events.NewBus(), wallet.Options{GiftAmount: cfg.GiftAmount})

	w, err := svc.Get(ctx, userID)
	if err != nil {
		log.WithError(err).Fatal("Ошибка чтения кошелька")
	}
	if w == nil {
		fmt.Printf("Кошелёк %d не найден\n", userID)
		os.Exit(1)
	}

	plain, err := svc.RegenerateToolPassword(ctx, userID, w.Username)
	if err != nil {
		log.WithError(err).Fatal("Не удалось обновить пароль")
	}

	fmt.Printf("Новый пароль клиента для %d (@%s):\n", userID, w.Username)
	fmt.Println(plain)
}
