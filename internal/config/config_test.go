package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesFlagDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, uint16(DefaultPort), cfg.Port)
	assert.Equal(t, DefaultMulticastHost, cfg.MulticastHost)
	assert.Equal(t, DefaultBaristas, cfg.Baristas)
	assert.Equal(t, DefaultMaxTickets, cfg.MaxTickets)
	assert.Equal(t, 24*time.Hour, cfg.ItemTTL)
}

func TestApplyName_DerivesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyName("coffee")
	assert.Equal(t, "task-queue-coffee", cfg.DynamoDBTable)
	assert.Equal(t, "task-queue-coffee", cfg.SQSQueue)
}

func TestApplyName_DoesNotOverrideExplicitValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DynamoDBTable = "custom-table"
	cfg.ApplyName("coffee")
	assert.Equal(t, "custom-table", cfg.DynamoDBTable)
}

func TestValidate_RejectsNonPositiveBaristas(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Baristas = 0
	err := cfg.Validate()
	require.Error(t, err)
	var fe *ValidationFieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "baristas", fe.Field)
}

func TestValidate_RejectsNonPositiveMaxTickets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTickets = -1
	err := cfg.Validate()
	require.Error(t, err)
	var fe *ValidationFieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "max_tickets", fe.Field)
}

func TestValidate_RejectsNonMulticastHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MulticastHost = "10.0.0.1"
	err := cfg.Validate()
	require.Error(t, err)
	var me *InvalidMulticastAddrError
	require.ErrorAs(t, err, &me)
}

func TestValidate_AcceptsMulticastBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MulticastHost = "224.0.0.0"
	assert.NoError(t, cfg.Validate())
	cfg.MulticastHost = "239.255.255.255"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("BREW_HOST", "127.0.0.1")
	t.Setenv("BREW_PORT", "9000")
	t.Setenv("BREW_BARISTAS", "4")
	t.Setenv("BREW_ITEM_TTL", "1h")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, uint16(9000), cfg.Port)
	assert.Equal(t, 4, cfg.Baristas)
	assert.Equal(t, time.Hour, cfg.ItemTTL)
}

func TestHostAddr_JoinsHostAndPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "0.0.0.0"
	cfg.Port = 7007
	assert.Equal(t, "0.0.0.0:7007", cfg.HostAddr())
}
