package shop

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type savedCredential struct {
	cookie  string
	savedAt time.Time
}

// Vault хранит последний cookie пользователя после QR-входа,
// чтобы /buy работал без ручной вставки.
type Vault struct {
	items *xsync.MapOf[int64, savedCredential]
	ttl   time.Duration
	now   func() time.Time
}

// NewVault создаёт хранилище. ttl <= 0 — без срока.
func NewVault(ttl time.Duration) *Vault {
	return &Vault{
		items: xsync.NewMapOf[int64, savedCredential](),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SaveCredential запоминает cookie.
func (v *Vault) SaveCredential(userID int64, cookie string) {
	v.items.Store(userID, savedCredential{cookie: cookie, savedAt: v.now()})
}

// Credential возвращает сохранённый cookie, если он не устарел.
func (v *Vault) Credential(userID int64) (string, bool) {
	c, ok := v.items.Load(userID)
	if !ok {
		return "", false
	}
	if v.ttl > 0 && v.now().Sub(c.savedAt) > v.ttl {
		v.items.Delete(userID)
		return "", false
	}
	return c.cookie, true
}

// Cleanup удаляет устаревшие записи.
func (v *Vault) Cleanup() int {
	if v.ttl <= 0 {
		return 0
	}
	now := v.now()
	removed := 0
	v.items.Range(func(id int64, c savedCredential) bool {
		if now.Sub(c.savedAt) > v.ttl {
			v.items.Delete(id)
			removed++
		}
		return true
	})
	return removed
}
