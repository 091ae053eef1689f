package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"serotonyl.ru/wallet-bot/internal/cache"
	"serotonyl.ru/wallet-bot/internal/common"
)

const catalogueKey = "vouchers"

// CatalogueSource — откуда берётся список ваучеров.
type CatalogueSource interface {
	Catalogue(ctx context.Context) ([]Item, error)
}

// Catalogue — каталог за кешем на 60 секунд.
type Catalogue struct {
	cache *cache.Cache[string, []Item]
}

// NewCatalogue оборачивает источник кешем.
// При ошибке источника отдаётся старый список, а без него пустой.
func NewCatalogue(src CatalogueSource, ttl time.Duration) *Catalogue {
	return &Catalogue{
		cache: cache.New[string, []Item]("catalogue", ttl,
			func(ctx context.Context, _ string) ([]Item, error) {
				return src.Catalogue(ctx)
			},
			cache.WithDefault[string, []Item]([]Item{}),
		),
	}
}

// Items возвращает весь каталог.
func (c *Catalogue) Items(ctx context.Context) ([]Item, error) {
	items, _, err := c.cache.Get(ctx, catalogueKey)
	return items, err
}

// Find ищет позицию по ключу, а если такой нет, то все позиции комбо.
func (c *Catalogue) Find(ctx context.Context, key string) ([]Item, error) {
	items, err := c.Items(ctx)
	if err != nil {
		return nil, err
	}
	want := NormalizeKey(key)
	if want == "" {
		return nil, common.ErrItemNotFound
	}

	for _, it := range items {
		if NormalizeKey(it.Key) == want || NormalizeKey(it.Name) == want {
			if !it.Available {
				return nil, common.ErrOutOfStock
			}
			return []Item{it}, nil
		}
	}

	var combo []Item
	for _, it := range items {
		if it.Combo != "" && NormalizeKey(it.Combo) == want && it.Available {
			combo = append(combo, it)
		}
	}
	if len(combo) == 0 {
		return nil, common.ErrItemNotFound
	}
	return combo, nil
}

// Cached — сколько позиций лежит в кеше сейчас (без загрузки).
func (c *Catalogue) Cached() int {
	items, _ := c.cache.Peek(catalogueKey)
	return len(items)
}

// Purge чистит кеш каталога.
func (c *Catalogue) Purge(maxAge time.Duration) int {
	return c.cache.Purge(maxAge)
}

// HTTPCatalogue читает каталог из {base}/vouchers.
type HTTPCatalogue struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCatalogue создаёт HTTP-источник каталога.
func NewHTTPCatalogue(baseURL string) *HTTPCatalogue {
	return &HTTPCatalogue{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Catalogue загружает список ваучеров.
func (h *HTTPCatalogue) Catalogue(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/vouchers", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("catalogue API error %d", resp.StatusCode)
	}

	var body struct {
		Vouchers []Item `json:"vouchers"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return body.Vouchers, nil
}

// EmptyCatalogue — магазин не настроен.
type EmptyCatalogue struct{}

func (EmptyCatalogue) Catalogue(context.Context) ([]Item, error) { return nil, nil }
