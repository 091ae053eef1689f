package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Redeemer активирует ваучер на аккаунте с данными входа credential.
type Redeemer interface {
	Redeem(ctx context.Context, credential string, item Item) (Outcome, error)
}

// Коды ответа сервиса ваучеров.
const (
	codeOK              = 0
	codeNotEligible     = 5
	codeAlreadyRedeemed = 14
)

// HTTPRedeemer сохраняет ваучер через API магазина.
type HTTPRedeemer struct {
	url        string
	httpClient *http.Client
}

// NewHTTPRedeemer создаёт клиента активации.
func NewHTTPRedeemer(url string) *HTTPRedeemer {
	return &HTTPRedeemer{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type voucherIdentifier struct {
	PromotionID     int64  `json:"promotion_id"`
	VoucherCode     string `json:"voucher_code"`
	Signature       string `json:"signature"`
	SignatureSource int    `json:"signature_source"`
}

type saveRequest struct {
	VoucherIdentifiers    []voucherIdentifier `json:"voucher_identifiers"`
	NeedUserVoucherStatus bool                `json:"need_user_voucher_status"`
}

type saveResponse struct {
	Responses []struct {
		Error int `json:"error"`
	} `json:"responses"`
}

// Redeem отправляет запрос сохранения. Сетевые ошибки и неизвестные коды
// считаются временными: деньги за такую пару вернутся.
func (r *HTTPRedeemer) Redeem(ctx context.Context, credential string, item Item) (Outcome, error) {
	body, err := json.Marshal(saveRequest{
		VoucherIdentifiers: []voucherIdentifier{{
			PromotionID: item.PromotionID,
			VoucherCode: item.Key,
			Signature:   item.Signature,
		}},
		NeedUserVoucherStatus: true,
	})
	if err != nil {
		return OutcomeTransient, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return OutcomeTransient, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Cookie", credential)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return OutcomeTransient, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return OutcomeTransient, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return OutcomeTransient, fmt.Errorf("redeem API error %d", resp.StatusCode)
	}

	var sr saveResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return OutcomeTransient, fmt.Errorf("unmarshal: %w", err)
	}
	if len(sr.Responses) == 0 {
		return OutcomeTransient, errors.New("invalid response")
	}
	return mapCode(sr.Responses[0].Error), nil
}

func mapCode(code int) Outcome {
	switch code {
	case codeOK:
		return OutcomeOK
	case codeNotEligible:
		return OutcomeNotEligible
	case codeAlreadyRedeemed:
		return OutcomeAlreadyRedeemed
	default:
		log.WithField("code", code).Warn("[SHOP] Неизвестный код ответа")
		return OutcomeTransient
	}
}
