// Package toolapi — HTTP API для клиента на ПК: баланс, списание, каталог
// и журнал сохранённых клиентом ваучеров.
// Все запросы требуют заголовок X-Tool-Key.
package toolapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/events"
	"serotonyl.ru/wallet-bot/internal/features/antispam"
	"serotonyl.ru/wallet-bot/internal/features/shop"
	"serotonyl.ru/wallet-bot/internal/features/wallet"
)

// HeaderKey — заголовок с ключом клиента.
const HeaderKey = "X-Tool-Key"

// Wallets — операции кошелька для клиента.
type Wallets interface {
	Get(ctx context.Context, userID int64) (*wallet.Wallet, error)
	VerifyToolPassword(ctx context.Context, userID int64, plain string) (bool, error)
	Debit(ctx context.Context, userID, amount int64, reason string) (wallet.DebitResult, error)
}

// BanChecker — проверка бана с ленивым снятием истёкших.
type BanChecker interface {
	CheckBan(ctx context.Context, userID int64) (antispam.BanStatus, error)
}

// Catalogue — список ваучеров из кеша.
type Catalogue interface {
	Items(ctx context.Context) ([]shop.Item, error)
}

// Handler обслуживает /tool/*.
type Handler struct {
	wallets   Wallets
	bans      BanChecker
	catalogue Catalogue
	bus       events.Publisher
	apiKey    string
}

// NewHandler создаёт обработчик. Пустой apiKey закрывает API (500).
func NewHandler(wallets Wallets, bans BanChecker, catalogue Catalogue, bus events.Publisher, apiKey string) *Handler {
	return &Handler{wallets: wallets, bans: bans, catalogue: catalogue, bus: bus, apiKey: strings.TrimSpace(apiKey)}
}

// Register подключает маршруты.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/tool", h.auth)
	g.GET("/wallet", h.getWallet)
	g.POST("/deduct", h.deduct)
	g.GET("/vouchers", h.vouchers)
	g.POST("/log", h.logUsage)
}

func (h *Handler) auth(c *gin.Context) {
	if h.apiKey == "" {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "TOOL_API_KEY not configured on server"})
		return
	}
	got := strings.TrimSpace(c.GetHeader(HeaderKey))
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.apiKey)) != 1 {
		log.WithField("path", c.Request.URL.Path).Warn("[TOOL] Неверный ключ")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Unauthorized"})
		return
	}
	c.Next()
}

// authorize проверяет кошелёк, бан и пароль. false — ответ уже отправлен.
func (h *Handler) authorize(c *gin.Context, userID int64, pass string) (*wallet.Wallet, bool) {
	ctx := c.Request.Context()

	w, err := h.wallets.Get(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("[TOOL] Ошибка чтения кошелька")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "DB not ready"})
		return nil, false
	}
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "User not found"})
		return nil, false
	}

	st, err := h.bans.CheckBan(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("[TOOL] Ошибка проверки бана")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "DB not ready"})
		return nil, false
	}
	if st.Banned {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "Account is banned"})
		return nil, false
	}

	ok, err := h.wallets.VerifyToolPassword(ctx, userID, pass)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("[TOOL] Ошибка проверки пароля")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "DB not ready"})
		return nil, false
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Wrong password"})
		return nil, false
	}
	return w, true
}

func (h *Handler) getWallet(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("tele_id"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "tele_id required"})
		return
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "tele_id must be numeric"})
		return
	}

	w, ok := h.authorize(c, userID, strings.TrimSpace(c.Query("pass")))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "balance": w.Balance, "username": w.Username})
}

type deductRequest struct {
	TeleID int64  `json:"tele_id"`
	Pass   string `json:"pass"`
	Amount int64  `json:"amount"`
}

func (h *Handler) deduct(c *gin.Context) {
	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid tele_id or amount"})
		return
	}
	if req.TeleID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "tele_id required"})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "amount must be > 0"})
		return
	}

	if _, ok := h.authorize(c, req.TeleID, strings.TrimSpace(req.Pass)); !ok {
		return
	}

	res, err := h.wallets.Debit(c.Request.Context(), req.TeleID, req.Amount, "TOOL_PC")
	if err != nil {
		log.WithError(err).WithField("user_id", req.TeleID).Error("[TOOL] Ошибка списания")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Deduct failed"})
		return
	}
	if !res.OK {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Insufficient balance", "balance": res.Balance})
		return
	}

	log.WithFields(log.Fields{
		"user_id": req.TeleID,
		"amount":  req.Amount,
		"balance": res.Balance,
	}).Info("[TOOL] Списание клиентом")
	c.JSON(http.StatusOK, gin.H{"ok": true, "balance": res.Balance})
}

func (h *Handler) vouchers(c *gin.Context) {
	items, err := h.catalogue.Items(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("[TOOL] Каталог недоступен")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "catalogue unavailable"})
		return
	}
	if items == nil {
		items = []shop.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "vouchers": items})
}

type logRequest struct {
	TeleID       int64  `json:"tele_id"`
	Username     string `json:"username"`
	VoucherName  string `json:"voucher_name"`
	Success      int    `json:"success"`
	Total        int    `json:"total"`
	Price        int64  `json:"price"`
	BalanceAfter int64  `json:"balance_after"`
}

// logUsage записывает итог сохранения ваучера клиентом в журнал использования.
// Пароль не нужен: деньги уже списаны через /tool/deduct.
func (h *Handler) logUsage(c *gin.Context) {
	var req logRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TeleID == 0 || strings.TrimSpace(req.VoucherName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "tele_id and voucher_name required"})
		return
	}

	log.WithFields(log.Fields{
		"user_id":  req.TeleID,
		"username": req.Username,
		"item":     req.VoucherName,
		"saved":    req.Success,
		"total":    req.Total,
		"balance":  req.BalanceAfter,
	}).Info("[TOOL] Ваучер сохранён клиентом")

	if req.Success > 0 {
		h.bus.Emit(c.Request.Context(), events.VoucherSaved{
			UserID: req.TeleID,
			Item:   strings.TrimSpace(req.VoucherName),
			Saved:  req.Success,
			Total:  req.Total,
			Price:  req.Price,
			Source: "tool",
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
