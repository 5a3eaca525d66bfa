package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap_AppliesDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"db": map[string]interface{}{"host": "pg", "port": 6543},
	})
	require.NoError(t, err)

	assert.Equal(t, "pg", cfg.DB.Host)
	assert.Equal(t, 6543, cfg.DB.Port)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 20, cfg.Sync.MaxMessages)
	assert.Equal(t, "is:unread", cfg.Sync.Query)
	assert.Equal(t, "in:inbox", cfg.Sync.ManualQuery)
	assert.Equal(t, 5, cfg.Sync.BatchSize)
	assert.Equal(t, time.Second, cfg.Sync.BatchPause)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
}

func TestFromMap_ParsesDurations(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"sync": map[string]interface{}{
			"interval":    "5m",
			"batch_pause": "250ms",
		},
		"browser": map[string]interface{}{"navigation_timeout": "10s"},
	})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.BatchPause)
	assert.Equal(t, 10*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 5, cfg.Sync.BatchSize)
}
