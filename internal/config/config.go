package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/spellctl/internal/session"
	"github.com/danmuck/spellctl/internal/transport"
)

const (
	DefaultListenerHost = "localhost"
	DefaultListenerPort = 9988
)

var (
	ErrMissingHost    = errors.New("config: listener host is required")
	ErrInvalidPort    = errors.New("config: listener port must be 1-65535")
	ErrInvalidRole    = errors.New("config: role must be COMMANDING or MONITORING")
	ErrInvalidTimeout = errors.New("config: timeouts must be positive")
)

// Client is the resolved spellcli configuration.
type Client struct {
	Host    string
	Port    int
	Context string
	Role    session.Role
	Auth    session.Authentication
	// Exec is a default batch script used when --exec is not given.
	Exec      string
	Transport transport.Config
}

func DefaultClient() Client {
	return Client{
		Host:      DefaultListenerHost,
		Port:      DefaultListenerPort,
		Role:      session.RoleCommanding,
		Transport: transport.DefaultConfig(),
	}
}

func (c Client) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrMissingHost
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	switch c.Role {
	case session.RoleCommanding, session.RoleMonitoring:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	tc := c.Transport
	if tc.ConnectTimeout <= 0 || tc.RequestTimeout <= 0 || tc.WriteTimeout <= 0 || tc.DisconnectTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return tc.ValidateClientTransport()
}

type clientFile struct {
	Listener  listenerSection  `toml:"listener"`
	Auth      authSection      `toml:"auth"`
	Transport transportSection `toml:"transport"`
	TLS       tlsSection       `toml:"tls"`
}

type listenerSection struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Context string `toml:"context"`
	Role    string `toml:"role"`
	Exec    string `toml:"exec"`
}

type authSection struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	KeyFile  string `toml:"key_file"`
	UseLocal bool   `toml:"use_local"`
}

type transportSection struct {
	ConnectTimeout     string `toml:"connect_timeout"`
	RequestTimeout     string `toml:"request_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	DisconnectTimeout  string `toml:"disconnect_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	SecurityMode       string `toml:"security_mode"`
}

type tlsSection struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// LoadClient overlays the keys present in the TOML file at path onto
// DefaultClient and validates the result.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Client{}, fmt.Errorf("load client config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listener", "host") {
		cfg.Host = strings.TrimSpace(raw.Listener.Host)
	}
	if meta.IsDefined("listener", "port") {
		cfg.Port = raw.Listener.Port
	}
	if meta.IsDefined("listener", "context") {
		cfg.Context = strings.TrimSpace(raw.Listener.Context)
	}
	if meta.IsDefined("listener", "role") {
		cfg.Role = session.Role(strings.ToUpper(strings.TrimSpace(raw.Listener.Role)))
	}
	if meta.IsDefined("listener", "exec") {
		cfg.Exec = raw.Listener.Exec
	}

	if meta.IsDefined("auth", "username") {
		cfg.Auth.Username = strings.TrimSpace(raw.Auth.Username)
	}
	if meta.IsDefined("auth", "password") {
		cfg.Auth.Password = raw.Auth.Password
	}
	if meta.IsDefined("auth", "key_file") {
		cfg.Auth.KeyFile = strings.TrimSpace(raw.Auth.KeyFile)
	}
	if meta.IsDefined("auth", "use_local") {
		cfg.Auth.UseLocal = raw.Auth.UseLocal
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.Transport.ConnectTimeout, &cfg.Transport.ConnectTimeout},
		{"request_timeout", raw.Transport.RequestTimeout, &cfg.Transport.RequestTimeout},
		{"write_timeout", raw.Transport.WriteTimeout, &cfg.Transport.WriteTimeout},
		{"disconnect_timeout", raw.Transport.DisconnectTimeout, &cfg.Transport.DisconnectTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("transport", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Client{}, fmt.Errorf("parse transport.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("transport", "max_connect_attempts") {
		cfg.Transport.MaxConnectAttempts = raw.Transport.MaxConnectAttempts
	}
	if meta.IsDefined("transport", "security_mode") {
		cfg.Transport.SecurityMode = transport.SecurityMode(raw.Transport.SecurityMode)
	}

	if meta.IsDefined("tls") {
		cfg.Transport.TLS = transport.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			Mutual:             raw.TLS.Mutual,
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}

	if err := cfg.Validate(); err != nil {
		return Client{}, fmt.Errorf("client config %s: %w", path, err)
	}
	return cfg, nil
}
