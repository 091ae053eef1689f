package qrlogin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"serotonyl.ru/wallet-bot/internal/common"
)

// Status — ответ провайдера на опрос сессии.
type Status struct {
	State    string
	HasToken bool
}

// Credential — данные входа, полученные после сканирования.
type Credential struct {
	Cookie   string
	SPCST    string
	SPCF     string
	Username string
	Phone    string
}

// Provider — внешний сервис QR-входа.
type Provider interface {
	CreateSession(ctx context.Context, userID int64) (sessionID string, image []byte, err error)
	PollStatus(ctx context.Context, sessionID string) (Status, error)
	FetchCredential(ctx context.Context, sessionID string) (Credential, error)
}

const pngDataPrefix = "data:image/png;base64,"

var (
	spcSTRe = regexp.MustCompile(`SPC_ST=([^;]+)`)
	spcFRe  = regexp.MustCompile(`SPC_F=([^;]+)`)
)

// HTTPProvider ходит в QR API по HTTP.
type HTTPProvider struct {
	baseURL     string
	defaultSPCF string
	httpClient  *http.Client
}

// NewHTTPProvider создаёт клиента QR API.
// defaultSPCF дописывается в cookie, если провайдер не вернул SPC_F.
func NewHTTPProvider(baseURL, defaultSPCF string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		defaultSPCF: defaultSPCF,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type createResponse struct {
	envelope
	SessionID string `json:"session_id"`
	QRImage   string `json:"qr_image"`
}

type statusResponse struct {
	envelope
	Status   string `json:"status"`
	HasToken bool   `json:"has_token"`
}

type loginResponse struct {
	envelope
	CookieString string            `json:"cookie_string"`
	Cookie       string            `json:"cookie"`
	Cookies      map[string]string `json:"cookies"`
	Username     string            `json:"username"`
	Phone        string            `json:"phone"`
}

func (p *HTTPProvider) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: API error %d", common.ErrProviderUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// CreateSession открывает сессию и возвращает PNG с QR-кодом.
func (p *HTTPProvider) CreateSession(ctx context.Context, userID int64) (string, []byte, error) {
	var resp createResponse
	if err := p.doRequest(ctx, http.MethodPost, "/api/qr/create", map[string]int64{"user_id": userID}, &resp); err != nil {
		return "", nil, err
	}
	if !resp.Success {
		return "", nil, fmt.Errorf("%w: create QR failed: %s", common.ErrProviderUnavailable, orUnknown(resp.Error))
	}
	if resp.SessionID == "" {
		return "", nil, fmt.Errorf("%w: empty session_id", common.ErrProviderUnavailable)
	}

	image, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(resp.QRImage, pngDataPrefix))
	if err != nil {
		return "", nil, fmt.Errorf("decode qr_image: %w", err)
	}
	return resp.SessionID, image, nil
}

// PollStatus опрашивает состояние сессии.
func (p *HTTPProvider) PollStatus(ctx context.Context, sessionID string) (Status, error) {
	var resp statusResponse
	if err := p.doRequest(ctx, http.MethodGet, "/api/qr/status/"+sessionID, nil, &resp); err != nil {
		return Status{}, err
	}
	if !resp.Success {
		return Status{}, fmt.Errorf("%w: check failed: %s", common.ErrProviderUnavailable, orUnknown(resp.Error))
	}
	return Status{State: strings.ToUpper(resp.Status), HasToken: resp.HasToken}, nil
}

// FetchCredential забирает cookie после подтверждения входа.
// Порядок источников: cookie_string, cookie, затем карта cookies.
func (p *HTTPProvider) FetchCredential(ctx context.Context, sessionID string) (Credential, error) {
	var resp loginResponse
	if err := p.doRequest(ctx, http.MethodPost, "/api/qr/login/"+sessionID, nil, &resp); err != nil {
		return Credential{}, err
	}
	if !resp.Success {
		return Credential{}, fmt.Errorf("%w: login failed: %s", common.ErrProviderUnavailable, orUnknown(resp.Error))
	}

	cookie := resp.CookieString
	if cookie == "" {
		cookie = resp.Cookie
	}
	if cookie == "" && len(resp.Cookies) > 0 {
		cookie = joinCookies(resp.Cookies)
	}
	if cookie == "" {
		return Credential{}, fmt.Errorf("%w: no cookie returned", common.ErrProviderUnavailable)
	}

	cred := parseCredential(cookie, p.defaultSPCF)
	cred.Username = resp.Username
	cred.Phone = resp.Phone
	return cred, nil
}

func parseCredential(cookie, defaultSPCF string) Credential {
	if !strings.Contains(cookie, "SPC_F=") && defaultSPCF != "" {
		cookie = cookie + "; SPC_F=" + defaultSPCF
	}
	cred := Credential{Cookie: cookie}
	if m := spcSTRe.FindStringSubmatch(cookie); m != nil {
		cred.SPCST = m[1]
	}
	if m := spcFRe.FindStringSubmatch(cookie); m != nil {
		cred.SPCF = m[1]
	}
	return cred
}

// joinCookies собирает карту в строку cookie с устойчивым порядком ключей.
func joinCookies(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, "; ")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
