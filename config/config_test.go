package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEnvConfig_Prefixing tests key construction and defaults
func TestEnvConfig_Prefixing(t *testing.T) {
	t.Setenv("CATALOG_PG_WRITE_DSN", "postgres://override@db/catalog")
	env := NewEnvConfig("CATALOG_PG")

	assert.Equal(t, "postgres://override@db/catalog", env.GetString("WRITE_DSN", "default"))
	assert.Equal(t, "fallback", env.GetString("MISSING", "fallback"))
	assert.Equal(t, 42, env.GetInt("MISSING_INT", 42))
	assert.Equal(t, time.Minute, env.GetDuration("MISSING_DURATION", time.Minute))
}

// TestEnvConfig_Parsing tests typed parsing with invalid values falling
// back to defaults
func TestEnvConfig_Parsing(t *testing.T) {
	t.Setenv("T_COUNT", "7")
	t.Setenv("T_BAD_COUNT", "not-a-number")
	t.Setenv("T_FLAG", "true")
	t.Setenv("T_WAIT", "90s")
	t.Setenv("T_LIST", "a, b , ,c")
	env := NewEnvConfig("T")

	assert.Equal(t, 7, env.GetInt("COUNT", 1))
	assert.Equal(t, 1, env.GetInt("BAD_COUNT", 1))
	assert.True(t, env.GetBool("FLAG", false))
	assert.Equal(t, 90*time.Second, env.GetDuration("WAIT", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, env.GetStringSlice("LIST", nil))
}

// TestLoad_Defaults tests the assembled configuration with no environment
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("CATALOGTEST")
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Postgres.WriteDSN)
	assert.Empty(t, cfg.Postgres.ReadDSN, "read pool defaults to the write DSN downstream")
	assert.Equal(t, 4096, cfg.Cache.MaxEntries)
	assert.Empty(t, cfg.Audit.AMQPURL, "audit defaults to the log sink")
	assert.Equal(t, 10*time.Second, cfg.Tasks.PollInterval)
	assert.Equal(t, "catalog", cfg.Service.Name)
}

// TestLoad_ValidationFailure tests the startup invariants
func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("CATALOGBAD_ENVIRONMENT", "sandbox")
	_, err := Load("CATALOGBAD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Service.Environment")
}

// TestValidator tests the validation helpers in isolation
func TestValidator(t *testing.T) {
	v := NewValidator()
	v.RequireString("name", "")
	v.RequireInt("port", 0, 1, 65535)
	v.RequirePositiveInt("count", -1)
	v.RequireOneOf("level", "chatty", []string{"debug", "info"})

	assert.False(t, v.IsValid())
	assert.Len(t, v.Errors(), 4)
	assert.Error(t, v.Validate())

	ok := NewValidator()
	ok.RequireString("name", "catalog")
	ok.RequireOneOf("level", "info", []string{"debug", "info"})
	assert.NoError(t, ok.Validate())
}
