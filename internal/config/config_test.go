package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTOPOST_DATABASE_URL", "postgres://localhost/autopost")
	t.Setenv("AUTOPOST_CRON_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8070", cfg.Addr)
	assert.Equal(t, 15*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, 30*time.Minute, cfg.AdvanceInterval)
	assert.Equal(t, 4, cfg.DispatchConcurrency)
	assert.Equal(t, "autopost.dispatch-results", cfg.KafkaTopic)
}

func TestLoadRequiresCronSecret(t *testing.T) {
	t.Setenv("AUTOPOST_DATABASE_URL", "postgres://localhost/autopost")
	t.Setenv("AUTOPOST_CRON_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("AUTOPOST_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTOPOST_CRON_SECRET", "secret")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseURLFallback(t *testing.T) {
	t.Setenv("AUTOPOST_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/fallback")
	t.Setenv("AUTOPOST_CRON_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/fallback", cfg.DatabaseURL)
}

func TestParseEndpoints(t *testing.T) {
	out := parseEndpoints("onlyfans=http://adapters:9001/onlyfans, fansly=http://adapters:9001/fansly")
	assert.Equal(t, map[string]string{
		"onlyfans": "http://adapters:9001/onlyfans",
		"fansly":   "http://adapters:9001/fansly",
	}, out)

	// Malformed pairs are dropped, not fatal.
	out = parseEndpoints("bare,=nohost,x=")
	assert.Empty(t, out)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList("a, b,"))
}
