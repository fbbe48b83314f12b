package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("INTERNAL_API_SECRET", "internal")
	t.Setenv("COOKIE_HASH_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TenantModeSingle, cfg.TenantMode)
	assert.Equal(t, "default", cfg.Tenant)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.False(t, cfg.IsProduction())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T)
	}{
		{
			name: "missing jwt secret",
			setup: func(t *testing.T) {
				validEnv(t)
				t.Setenv("JWT_SECRET", "")
			},
		},
		{
			name: "missing internal secret",
			setup: func(t *testing.T) {
				validEnv(t)
				t.Setenv("INTERNAL_API_SECRET", "")
			},
		},
		{
			name: "multi mode without allow-list",
			setup: func(t *testing.T) {
				validEnv(t)
				t.Setenv("TENANT_MODE", "multi")
			},
		},
		{
			name: "unknown tenant mode",
			setup: func(t *testing.T) {
				validEnv(t)
				t.Setenv("TENANT_MODE", "federated")
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.setup(t)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMultiTenant(t *testing.T) {
	validEnv(t)
	t.Setenv("TENANT_MODE", "multi")
	t.Setenv("TENANTS", "t1,t2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, cfg.Tenants)
}

func TestIsProduction(t *testing.T) {
	validEnv(t)
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
