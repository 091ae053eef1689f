// Package bot — приём апдейтов Telegram и маршрутизация команд.
// bot.go запускает long polling, ограничивает параллелизм и прогоняет каждый
// апдейт через фильтр, бан и паузы до вызова обработчика.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/bot/filters"
	"serotonyl.ru/wallet-bot/internal/bot/middleware"
	"serotonyl.ru/wallet-bot/internal/features/antispam"
	"serotonyl.ru/wallet-bot/internal/features/qrlogin"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// Wallets — создание кошелька при первом обращении.
type Wallets interface {
	EnsureWallet(ctx context.Context, userID int64, username string) error
}

// Bans — антиспам и баны.
type Bans interface {
	CheckBan(ctx context.Context, userID int64) (antispam.BanStatus, error)
	TrackViolation(ctx context.Context, userID int64, username string, class antispam.Class) (antispam.BanResult, error)
	BanText(st antispam.BanStatus) string
}

// WalletHandler — /balance, /gift, /toolpass.
type WalletHandler interface {
	HandleBalance(ctx context.Context, chatID, userID int64)
	HandleGift(ctx context.Context, chatID, userID int64, username string)
	HandleToolPass(ctx context.Context, chatID, userID int64, username string)
}

// TopupHandler — /topup.
type TopupHandler interface {
	HandleTopupInfo(ctx context.Context, chatID, userID int64)
}

// QRHandler — /qr и кнопка отмены.
type QRHandler interface {
	HandleQR(ctx context.Context, chatID, userID int64, username string)
	HandleCancel(ctx context.Context, chatID, userID int64, data string)
}

// ShopHandler — /vouchers и /buy.
type ShopHandler interface {
	HandleCatalogue(ctx context.Context, chatID int64)
	HandleBuy(ctx context.Context, chatID, userID int64, args string)
}

// BroadcastHandler — /broadcast для админа.
type BroadcastHandler interface {
	HandleBroadcast(ctx context.Context, chatID int64, text string)
}

// ReportHandler — /tongket и /stats для админа.
type ReportHandler interface {
	HandleDailyReport(ctx context.Context, chatID int64, args string)
	HandleStats(ctx context.Context, chatID int64)
}

// Handlers — все обработчики команд.
type Handlers struct {
	Wallet    WalletHandler
	Topup     TopupHandler
	QR        QRHandler
	Shop      ShopHandler
	Broadcast BroadcastHandler
	Report    ReportHandler
}

// Options — параметры цикла апдейтов.
type Options struct {
	BotID            int64 // свой id, чтобы не отвечать самому себе
	MaxInflight      int
	UpdateTimeout    int
	AdminIDs         []int64
	CallbackCooldown time.Duration
	CommandCooldown  time.Duration
	TextCooldown     time.Duration
	DedupeSize       int
}

// Bot — главная структура бота.
type Bot struct {
	api      *telego.Bot
	opts     Options
	wallets  Wallets
	bans     Bans
	handlers Handlers
	notifier notify.Notifier

	filter   *filters.ChatFilter
	cooldown *middleware.Cooldown
	dedupe   *middleware.Dedupe
	parser   *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт бота. api может быть nil, если апдейты подаются через HandleUpdate.
func New(api *telego.Bot, opts Options, wallets Wallets, bans Bans, handlers Handlers, notifier notify.Notifier) *Bot {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 64
	}
	return &Bot{
		api:      api,
		opts:     opts,
		wallets:  wallets,
		bans:     bans,
		handlers: handlers,
		notifier: notifier,
		filter:   filters.NewChatFilter(opts.BotID),
		cooldown: middleware.NewCooldown(map[antispam.Class]time.Duration{
			antispam.ClassCallback: opts.CallbackCooldown,
			antispam.ClassCommand:  opts.CommandCooldown,
			antispam.ClassText:     opts.TextCooldown,
		}, nil),
		dedupe:   middleware.NewDedupe(opts.DedupeSize),
		parser:   NewCommandParser(),
		inflight: make(chan struct{}, opts.MaxInflight),
	}
}

// Start запускает long polling и блокируется до отмены ctx.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        b.opts.UpdateTimeout,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return fmt.Errorf("long polling: %w", err)
	}

	log.WithFields(log.Fields{
		"max_inflight": b.opts.MaxInflight,
		"timeout_sec":  b.opts.UpdateTimeout,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return nil

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return nil
			}

			// лимит параллелизма
			select {
			case b.inflight <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			go func(upd telego.Update) {
				defer func() { <-b.inflight }()
				b.HandleUpdate(ctx, upd)
			}(update)
		}
	}
}

// Close останавливает фоновые горутины бота.
func (b *Bot) Close() {
	b.cooldown.Close()
}

// HandleUpdate обрабатывает один апдейт.
func (b *Bot) HandleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.RecoverFromPanic(update.UpdateID)

	if !b.dedupe.FirstSeen(update.UpdateID) {
		log.WithField("update_id", update.UpdateID).Debug("Повторный апдейт, пропускаем")
		return
	}
	middleware.LogUpdate(update)

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *telego.Message) {
	if !b.filter.CheckMessage(message) || message.Text == "" {
		return
	}

	chatID := message.Chat.ID
	userID := message.From.ID
	username := message.From.Username

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	class := antispam.ClassText
	if isCommand {
		class = antispam.ClassCommand
	}

	if !b.admit(ctx, chatID, userID, username, class) {
		return
	}

	if !isCommand {
		b.notifier.Send(ctx, chatID, "Не понимаю. Список команд: /help")
		return
	}
	b.routeCommand(ctx, chatID, userID, username, cmd, args)
}

func (b *Bot) handleCallback(ctx context.Context, cb *telego.CallbackQuery) {
	if !b.filter.CheckCallback(cb) {
		return
	}
	if b.api != nil {
		if err := b.api.AnswerCallbackQuery(ctx, tu.CallbackQuery(cb.ID)); err != nil {
			log.WithError(err).Debug("Не удалось ответить на callback")
		}
	}

	// кнопки шлём только в личку, chat_id совпадает с user_id
	userID := cb.From.ID
	if !b.admit(ctx, userID, userID, cb.From.Username, antispam.ClassCallback) {
		return
	}

	switch {
	case strings.HasPrefix(cb.Data, qrlogin.CancelPrefix):
		b.handlers.QR.HandleCancel(ctx, userID, userID, cb.Data)
	default:
		log.WithField("data", cb.Data).Debug("Неизвестный callback")
	}
}

// admit — общий вход: кошелёк, бан, пауза. false если дальше идти нельзя.
func (b *Bot) admit(ctx context.Context, chatID, userID int64, username string, class antispam.Class) bool {
	logger := log.WithFields(log.Fields{
		"user_id": userID,
		"class":   class,
	})

	if err := b.wallets.EnsureWallet(ctx, userID, username); err != nil {
		logger.WithError(err).Error("EnsureWallet failed")
		b.notifier.Send(ctx, chatID, "❌ Сервис временно недоступен, попробуйте позже")
		return false
	}

	st, err := b.bans.CheckBan(ctx, userID)
	if err != nil {
		logger.WithError(err).Error("CheckBan failed")
		return false
	}
	if st.Banned {
		b.notifier.Send(ctx, chatID, b.bans.BanText(st))
		return false
	}

	if b.cooldown.Allow(class, userID) {
		return true
	}

	res, err := b.bans.TrackViolation(ctx, userID, username, class)
	if err != nil {
		logger.WithError(err).Error("TrackViolation failed")
		return false
	}
	logger.WithField("count", res.Count).Debug("Слишком часто")
	if res.Banned {
		b.notifier.Send(ctx, chatID, b.bans.BanText(antispam.BanStatus{
			Banned:    true,
			Permanent: res.Permanent,
			Until:     res.Until,
		}))
	}
	return false
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID, userID int64, username, cmd, args string) {
	log.WithFields(log.Fields{
		"cmd":     cmd,
		"user_id": userID,
	}).Debug("routing command")

	switch cmd {
	case "start", "help":
		b.notifier.Send(ctx, chatID, helpText)

	case "balance":
		b.handlers.Wallet.HandleBalance(ctx, chatID, userID)

	case "gift":
		b.handlers.Wallet.HandleGift(ctx, chatID, userID, username)

	case "toolpass":
		b.handlers.Wallet.HandleToolPass(ctx, chatID, userID, username)

	case "topup":
		b.handlers.Topup.HandleTopupInfo(ctx, chatID, userID)

	case "qr":
		b.handlers.QR.HandleQR(ctx, chatID, userID, username)

	case "vouchers":
		b.handlers.Shop.HandleCatalogue(ctx, chatID)

	case "buy":
		b.handlers.Shop.HandleBuy(ctx, chatID, userID, args)

	case "broadcast":
		if b.isAdmin(userID) {
			b.handlers.Broadcast.HandleBroadcast(ctx, chatID, args)
		}

	case "tongket":
		if b.isAdmin(userID) {
			b.handlers.Report.HandleDailyReport(ctx, chatID, args)
		}

	case "stats":
		if b.isAdmin(userID) {
			b.handlers.Report.HandleStats(ctx, chatID)
		}

	default:
		b.notifier.Send(ctx, chatID, "Неизвестная команда. Список команд: /help")
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.opts.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

const helpText = `👋 Кошелёк бота
/balance — баланс
/gift — подарок за активацию
/topup — пополнить баланс
/qr — получить cookie через QR-вход
/vouchers — список ваучеров
/buy <ваучер> — купить (cookie строками ниже)
/toolpass — пароль для клиента на ПК`

// CommandParser разбирает команды вида /cmd@bot аргументы.
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!"},
	}
}

// ParseCommand возвращает имя команды в нижнем регистре и остаток текста как есть
// (с переводами строк: /buy принимает cookie построчно).
func (p *CommandParser) ParseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix || text == "" {
		return "", "", false
	}

	end := strings.IndexAny(text, " \t\n")
	head, rest := text, ""
	if end >= 0 {
		head, rest = text[:end], strings.TrimLeft(text[end:], " \t")
		rest = strings.TrimPrefix(rest, "\n")
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), rest, true
}
