// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, хранилище антиспама, сервисы,
// HTTP-сервер, бота и планировщик и запускает их под одним контекстом.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/wallet-bot/internal/bot"
	"serotonyl.ru/wallet-bot/internal/config"
	"serotonyl.ru/wallet-bot/internal/db/postgres"
	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/features/antispam"
	"serotonyl.ru/wallet-bot/internal/features/broadcast"
	"serotonyl.ru/wallet-bot/internal/features/mirror"
	"serotonyl.ru/wallet-bot/internal/features/qrlogin"
	"serotonyl.ru/wallet-bot/internal/features/report"
	"serotonyl.ru/wallet-bot/internal/features/shop"
	"serotonyl.ru/wallet-bot/internal/features/toolapi"
	"serotonyl.ru/wallet-bot/internal/features/topup"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
	"serotonyl.ru/wallet-bot/internal/jobs"
	"serotonyl.ru/wallet-bot/internal/notify"
	"serotonyl.ru/wallet-bot/internal/server"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Server    *server.Server
	Scheduler *jobs.Scheduler
	Mirror    *mirror.Mirror
	Bus       *events.Bus
	DB        *pgxpool.Pool
	Redis     *redis.Client
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc, err := time.LoadLocation(cfg.AppTimezone)
	if err != nil {
		log.WithError(err).Warnf("Не удалось загрузить %s, используем UTC", cfg.AppTimezone)
		loc = time.UTC
	}

	// === 1. База данных ===
	if err := postgres.RunMigrations(cfg.DatabaseDSN()); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolOptions{
		DSN:      cfg.DatabaseDSN(),
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// === 2. Telegram Bot API ===
	var opts []telego.BotOption
	if cfg.AppEnv == "development" {
		opts = append(opts, telego.WithDefaultDebugLogger())
	}
	api, err := telego.NewBot(cfg.TelegramBotToken, opts...)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	me, err := api.GetMe(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("getMe: %w", err)
	}
	log.Infof("Авторизован как @%s", me.Username)
	notifier := notify.NewTelegram(api)

	// === 3. Антиспам: Redis, если задан, иначе память процесса ===
	memory := antispam.NewMemoryStore(nil)
	var store antispam.Store = memory
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = antispam.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("Redis недоступен, антиспам в памяти")
		} else {
			store = antispam.NewFallbackStore(antispam.NewRedisStore(rdb), memory)
		}
	}

	// === 4. Ядро: кошелёк, пополнения, баны ===
	bus := events.NewBus()
	walletRepo := wallet.NewRepository()
	wallets := wallet.NewService(pool, walletRepo, bus, wallet.Options{GiftAmount: cfg.GiftAmount})
	topups := topup.NewService(pool, topup.NewRepository(), walletRepo, bus, notifier, cfg.TopupMinAmount)

	spam := antispam.DefaultConfig()
	spam.Threshold = cfg.SpamThreshold
	spam.Window = cfg.SpamWindow
	spam.BanDuration = cfg.BanDuration
	spam.EscalationTTL = cfg.EscalationTTL
	spam.AdminID = cfg.PrimaryAdmin()
	spam.Location = loc
	engine := antispam.NewEngine(store, wallets, notifier, spam, nil)
	qrFailures := antispam.NewQRFailures(wallets, notifier, cfg.PrimaryAdmin(), cfg.QRMaxFailures, cfg.QRFailureWindow, nil)

	// === 5. Магазин и QR-вход ===
	vault := shop.NewVault(24 * time.Hour)
	var source shop.CatalogueSource = shop.EmptyCatalogue{}
	if cfg.ShopAPIBase != "" {
		source = shop.NewHTTPCatalogue(cfg.ShopAPIBase)
	}
	catalogue := shop.NewCatalogue(source, cfg.CacheCatalogueTTL)
	shopService := shop.NewService(catalogue, shop.NewHTTPRedeemer(cfg.ShopRedeemURL), wallets, engine, vault, bus, cfg.ShopMaxCreds)

	coordinator := qrlogin.NewCoordinator(
		qrlogin.NewHTTPProvider(cfg.QRAPIBase, cfg.QRDefaultSPCF),
		wallets, engine, qrFailures, notifier, vault,
		qrlogin.Options{
			Fee:          cfg.QRFee,
			PollInterval: cfg.QRPollInterval,
			Timeout:      cfg.QRTimeout,
			StartDelay:   cfg.QRStartDelay,
			MaxFailures:  cfg.QRMaxFailures,
		},
	)

	// === 6. Зеркало и рассылки ===
	mirrorSvc := mirror.New(mirror.Noop{}, cfg.CacheRowTTL, 0, loc)
	mirrorSvc.Subscribe(bus)

	broadcasts := broadcast.NewService(wallets, notifier, broadcast.Options{
		RecipientsTTL: cfg.CacheRecipientsTTL,
		Cooldown:      cfg.BroadcastCooldown,
		Delay:         cfg.BroadcastDelay,
		AdminIDs:      cfg.AdminIDs,
	})
	broadcasts.Subscribe(bus)

	reports := report.NewService(pool, report.NewRepository(), notifier, report.Options{
		AdminID:  cfg.PrimaryAdmin(),
		Location: loc,
	})
	reports.Subscribe(bus)
	reportHandler := report.NewHandler(reports, notifier,
		report.Gauge{Name: "Строки таблицы", Value: mirrorSvc.CachedRows},
		report.Gauge{Name: "Получатели рассылки", Value: broadcasts.CachedRecipients},
		report.Gauge{Name: "Каталог", Value: catalogue.Cached},
		report.Gauge{Name: "QR-сессии", Value: coordinator.Active},
	)

	// === 7. HTTP: webhook пополнений и API клиента ===
	topupHandler := topup.NewHandler(topups, notifier, cfg.SepayAccount, cfg.SepayBank)
	srv := server.New(cfg.HTTPPort, cfg.AppEnv == "production",
		func() gin.H { return gin.H{"qr_sessions": coordinator.Active()} },
		topupHandler,
		toolapi.NewHandler(wallets, engine, catalogue, bus, cfg.ToolAPIKey),
	)

	// === 8. Бот ===
	b := bot.New(api, bot.Options{
		BotID:            me.ID,
		MaxInflight:      cfg.BotMaxInflight,
		UpdateTimeout:    cfg.BotUpdateTimeoutSeconds,
		AdminIDs:         cfg.AdminIDs,
		CallbackCooldown: cfg.CallbackCooldown,
		CommandCooldown:  cfg.CommandCooldown,
		TextCooldown:     cfg.TextCooldown,
	}, wallets, engine, bot.Handlers{
		Wallet:    wallet.NewHandler(wallets, notifier),
		Topup:     topupHandler,
		QR:        qrlogin.NewHandler(coordinator, notifier),
		Shop:      shop.NewHandler(shopService, notifier),
		Broadcast: broadcast.NewHandler(broadcasts, notifier),
		Report:    reportHandler,
	}, notifier)

	// === 9. Планировщик задач ===
	schedule := []jobs.Job{
		jobs.LiftBans("*/5 * * * *", wallets),
		jobs.Sweep("spam_counters", "* * * * *", memory.Cleanup),
		jobs.Sweep("qr_failures", "*/10 * * * *", qrFailures.Cleanup),
		jobs.Sweep("reversal_tokens", "0 * * * *", wallets.CleanupReversals),
		jobs.Sweep("credential_vault", "0 * * * *", vault.Cleanup),
		jobs.Sweep("mirror_rows", "30 * * * *", func() int { return mirrorSvc.PurgeRows(cfg.CacheRowTTL) }),
		jobs.Sweep("catalogue", "*/15 * * * *", func() int { return catalogue.Purge(cfg.CacheCatalogueTTL) }),
	}
	if cfg.ReportDailySchedule != "" {
		schedule = append(schedule, jobs.DailyReport(cfg.ReportDailySchedule, reports))
	}
	scheduler := jobs.NewScheduler(loc, schedule...)

	return &App{
		Bot:       b,
		Server:    srv,
		Scheduler: scheduler,
		Mirror:    mirrorSvc,
		Bus:       bus,
		DB:        pool,
		Redis:     rdb,
	}, nil
}

// Run запускает бота, HTTP-сервер и фоновые задачи и ждёт отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.Mirror.Start(ctx)
	a.Scheduler.RunAll(ctx)
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server.Run(gctx) })
	g.Go(func() error { return a.Bot.Start(gctx) })
	return g.Wait()
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Bot.Close()
	a.Bus.Wait()
	a.Mirror.Stop()
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	a.DB.Close()
}
