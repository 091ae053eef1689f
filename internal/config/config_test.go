package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInt64CSV(t *testing.T) {
	ids, err := parseInt64CSV(" 1, 22 ,333,")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 22, 333}, ids)

	ids, err = parseInt64CSV("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = parseInt64CSV("1,abc")
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("ADMIN_IDS", "42,7")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []int64{42, 7}, cfg.AdminIDs)
	assert.Equal(t, int64(42), cfg.PrimaryAdmin())
	assert.True(t, cfg.IsAdmin(7))
	assert.False(t, cfg.IsAdmin(8))
	assert.Equal(t, "postgres://u:p@localhost:5432/db", cfg.DatabaseDSN())
	assert.Equal(t, 5, cfg.SpamThreshold)
	assert.Equal(t, 20*time.Second, cfg.SpamWindow)
	assert.Equal(t, 3*time.Second, cfg.QRPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.QRTimeout)
	assert.Equal(t, int64(100), cfg.QRFee)
	assert.Equal(t, int64(10000), cfg.TopupMinAmount)
	assert.Equal(t, int64(5100), cfg.GiftAmount)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DBPassword:              "secret",
			BotMaxInflight:          1,
			BotUpdateTimeoutSeconds: 1,
			DBMaxConns:              2,
			DBMinConns:              1,
			SpamThreshold:           5,
			SpamWindow:              time.Second,
			QRPollInterval:          time.Second,
			QRTimeout:               time.Minute,
			TopupMinAmount:          1,
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.DBPassword = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.QRTimeout = cfg.QRPollInterval
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.DBMinConns = 5
	assert.Error(t, cfg.Validate())

	cfg = base()
	c := &cfg
	c.DatabaseURL = "postgres://x"
	c.DBPassword = ""
	assert.NoError(t, c.Validate())
	assert.Equal(t, "postgres://x", c.DatabaseDSN())
}
