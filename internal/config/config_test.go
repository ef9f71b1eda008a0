package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/spellctl/internal/auth"
	"github.com/danmuck/spellctl/internal/session"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
	"github.com/danmuck/spellctl/internal/transport"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestClientTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, WriteTemplate(path, "client", false))

	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 9988, cfg.Port)
	assert.Equal(t, "SAT-A", cfg.Context)
	assert.Equal(t, session.RoleCommanding, cfg.Role)
	assert.Equal(t, 10*time.Second, cfg.Transport.RequestTimeout)
	assert.False(t, cfg.Transport.TLS.Enabled)

	assert.Error(t, WriteTemplate(path, "client", false), "existing file overwritten")
	assert.NoError(t, WriteTemplate(path, "client", true))
}

func TestLoadClientOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "client.toml", `
[listener]
host = " spell.example "
role = "monitoring"

[transport]
request_timeout = "750ms"
max_connect_attempts = 3
`)
	cfg, err := LoadClient(path)
	require.NoError(t, err)

	def := DefaultClient()
	assert.Equal(t, "spell.example", cfg.Host)
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, session.RoleMonitoring, cfg.Role)
	assert.Equal(t, 750*time.Millisecond, cfg.Transport.RequestTimeout)
	assert.Equal(t, def.Transport.ConnectTimeout, cfg.Transport.ConnectTimeout)
	assert.Equal(t, 3, cfg.Transport.MaxConnectAttempts)
}

func TestLoadClientRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
		err  error
	}{
		{"port", "[listener]\nport = 70000\n", ErrInvalidPort},
		{"role", "[listener]\nrole = \"OBSERVER\"\n", ErrInvalidRole},
		{"host", "[listener]\nhost = \"\"\n", ErrMissingHost},
		{"timeout", "[transport]\nrequest_timeout = \"0s\"\n", ErrInvalidTimeout},
		{"production without tls", "[transport]\nsecurity_mode = \"production\"\n", transport.ErrTLSRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadClient(writeFile(t, "client.toml", tc.body))
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := LoadClient(writeFile(t, "client.toml", "[transport]\nrequest_timeout = \"soon\"\n"))
	assert.ErrorContains(t, err, "transport.request_timeout")

	_, err = LoadClient(writeFile(t, "client.toml", "[listener]\nhots = \"x\"\n"))
	assert.ErrorContains(t, err, "unknown key")

	_, err = LoadClient(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSimTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "sim.toml")
	require.NoError(t, WriteTemplate(path, "sim", false))

	cfg, err := LoadSimConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9988", cfg.Addr)
	assert.Equal(t, ":9989", cfg.HTTPAddr)
	require.Len(t, cfg.Contexts, 2)

	simCfg := cfg.Sim()
	assert.Equal(t, "SAT-A", simCfg.Contexts[0].Name)
	assert.Equal(t, "PRIME", simCfg.Contexts[0].Family)
	assert.Equal(t, "Safe Mode", simCfg.Procedures["PROC3"])
}

func TestSimConfigDefaultsAndValidation(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadSimConfig(writeFile(t, "sim.toml", "host = \"10.0.0.5\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9988", cfg.Addr)
	simCfg := cfg.Sim()
	assert.Nil(t, simCfg.Contexts, "empty contexts should keep simulator defaults")

	cfg, err = LoadSimConfig(writeFile(t, "sim.toml", "[users]\nops = \"s3cret\"\n"))
	require.NoError(t, err)
	v := cfg.Sim().Auth
	require.NotNil(t, v)
	assert.NoError(t, v.Validate("ops", "s3cret"))
	assert.ErrorIs(t, v.Validate("ops", "guess"), auth.ErrUnauthorized)

	_, err = LoadSimConfig(writeFile(t, "sim.toml", "[[contexts]]\nname = \"A\"\n[[contexts]]\nname = \"A\"\n"))
	assert.ErrorContains(t, err, "duplicate name")

	_, err = Template("other")
	assert.Error(t, err)
}
