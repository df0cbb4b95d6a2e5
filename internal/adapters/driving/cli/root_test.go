package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/config"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// withBootstrap installs b and clears the services it fills.
func withBootstrap(t *testing.T, b Bootstrap) {
	t.Helper()
	withServices(t, &Services{})
	old := bootstrap
	SetBootstrap(b)
	t.Cleanup(func() {
		bootstrap = old
		closeServices()
	})
}

func TestBootstrap_QueueOnlyForDetachedSubmit(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"detached submit", []string{"job", "submit", "/docs", "--kind", "localdir", "--detach"}, true},
		{"detached retry", []string{"job", "retry", "j1", "--detach"}, true},
		{"status", []string{"job", "status", "j1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *bool
			jobs := &mockJobService{job: &domain.Job{ID: "j1", SourceID: "s1", Status: domain.JobPending}}
			withBootstrap(t, func(_ context.Context, cfg *config.Config, queueOnly bool) (*Services, error) {
				got = &queueOnly
				assert.Equal(t, "acme", cfg.Tenant)
				return &Services{Jobs: jobs}, nil
			})

			_, err := run(t, append(tt.args, "--tenant", "acme")...)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestBootstrap_SkippedForConfigOnlyCommands(t *testing.T) {
	called := false
	withBootstrap(t, func(context.Context, *config.Config, bool) (*Services, error) {
		called = true
		return &Services{}, nil
	})

	_, err := run(t, "version")
	require.NoError(t, err)
	_, err = run(t, "config", "show")
	require.NoError(t, err)
	assert.False(t, called)
}

func TestBootstrap_ErrorAndClose(t *testing.T) {
	t.Run("error is reported", func(t *testing.T) {
		withBootstrap(t, func(context.Context, *config.Config, bool) (*Services, error) {
			return nil, errors.New("store unreachable")
		})

		_, err := run(t, "source", "list", "--tenant", "acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "starting services: store unreachable")
	})

	t.Run("closer runs once", func(t *testing.T) {
		closed := 0
		withBootstrap(t, func(context.Context, *config.Config, bool) (*Services, error) {
			return &Services{
				Sources: &mockSourceService{},
				Close:   func() error { closed++; return nil },
			}, nil
		})

		_, err := run(t, "source", "list", "--tenant", "acme")
		require.NoError(t, err)
		closeServices()
		closeServices()
		assert.Equal(t, 1, closed)
	})
}

func TestCurrentTenant(t *testing.T) {
	oldCfg, oldFlag := appConfig, tenantFlag
	t.Cleanup(func() { appConfig, tenantFlag = oldCfg, oldFlag })

	appConfig, tenantFlag = &config.Config{Tenant: "from-config"}, ""
	got, err := currentTenant()
	require.NoError(t, err)
	assert.Equal(t, domain.TenantID("from-config"), got)

	tenantFlag = "from-flag"
	got, err = currentTenant()
	require.NoError(t, err)
	assert.Equal(t, domain.TenantID("from-flag"), got)

	appConfig, tenantFlag = &config.Config{}, ""
	_, err = currentTenant()
	assert.ErrorContains(t, err, "no tenant")
}

func TestTenantFromEnvironment(t *testing.T) {
	t.Setenv("SERCHA_TENANT", "globex")
	jobs := &mockJobService{}
	withServices(t, &Services{Jobs: jobs})

	_, err := run(t, "job", "recover")
	require.NoError(t, err)
	assert.Equal(t, domain.TenantID("globex"), jobs.gotTenant)
}
