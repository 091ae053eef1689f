// Package topup — handlers.go: HTTP webhook платёжного провайдера и команда /topup.
package topup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// Ingestor — то, что нужно webhook-у и команде /topup.
type Ingestor interface {
	Ingest(ctx context.Context, p Payment) (Result, error)
	History(ctx context.Context, userID int64, limit int) ([]Record, error)
	MinAmount() int64
}

// Handler принимает уведомления провайдера.
type Handler struct {
	ingestor Ingestor
	notifier notify.Notifier
	account  string
	bank     string
}

// NewHandler создаёт обработчик webhook.
func NewHandler(ingestor Ingestor, notifier notify.Notifier, account, bank string) *Handler {
	return &Handler{ingestor: ingestor, notifier: notifier, account: account, bank: bank}
}

// Register подключает маршруты webhook.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/webhook/sepay", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.POST("/webhook/sepay", h.handleWebhook)
}

// Любой бизнес-отказ отвечает 200, иначе провайдер будет повторять.
// 500 — только если не удалось записать в БД.
func (h *Handler) handleWebhook(c *gin.Context) {
	// UseNumber: id провайдера бывает длиннее 2^53, float64 его исказит
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil || len(body) == 0 {
		c.String(http.StatusOK, "EMPTY")
		return
	}

	res, err := h.ingestor.Ingest(c.Request.Context(), ParsePayload(body))
	if err != nil {
		log.WithError(err).Error("[TOPUP] Ошибка обработки webhook")
		c.String(http.StatusInternalServerError, "ERROR")
		return
	}
	c.String(http.StatusOK, string(res.Outcome))
}

// ParsePayload достаёт платёж из JSON провайдера.
// Поля берутся по первому непустому из синонимов.
func ParsePayload(body map[string]any) Payment {
	txID := firstString(body, "id", "transaction_id", "tx_id", "referenceCode")
	amount := firstInt(body, "transferAmount", "amount", "amount_in")

	var memo []string
	for _, key := range []string{"content", "description", "remark", "note"} {
		memo = append(memo, stringOf(body[key]))
	}
	return Payment{
		TxID:   txID,
		Amount: amount,
		Memo:   strings.TrimSpace(strings.Join(memo, " ")),
	}
}

func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(stringOf(body[k])); s != "" && s != "0" {
			return s
		}
	}
	return ""
}

func firstInt(body map[string]any, keys ...string) int64 {
	for _, k := range keys {
		if v := intOf(body[k]); v != 0 {
			return v
		}
	}
	return 0
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func intOf(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return int64(f)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// HandleTopupInfo отправляет реквизиты и QR для пополнения.
func (h *Handler) HandleTopupInfo(ctx context.Context, chatID, userID int64) {
	text := fmt.Sprintf(
		"💳 Пополнение баланса\nНазначение платежа: %s\nМинимум: %s\nQR: %s",
		Memo(userID), common.FormatMoney(h.ingestor.MinAmount()), QRURL(h.account, h.bank, userID, 0),
	)

	records, err := h.ingestor.History(ctx, userID, 5)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("[TOPUP] Не удалось получить историю")
	}
	if len(records) > 0 {
		var sb strings.Builder
		sb.WriteString(text)
		sb.WriteString("\n\nПоследние пополнения:")
		for _, r := range records {
			sb.WriteString(fmt.Sprintf("\n%s  %s", r.CreatedAt.Format("02.01 15:04"), common.FormatSigned(r.Amount+r.Bonus)))
		}
		text = sb.String()
	}
	h.notifier.Send(ctx, chatID, text)
}
