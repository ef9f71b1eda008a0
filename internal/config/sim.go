package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/spellctl/internal/auth"
	"github.com/danmuck/spellctl/internal/sim"
)

// SimConfig is the spellsim file layout.
type SimConfig struct {
	Addr       string            `toml:"addr"`
	Host       string            `toml:"host"`
	HTTPAddr   string            `toml:"http_addr"`
	Procedures map[string]string `toml:"procedures"`
	// Users maps username to password. Empty accepts every login.
	Users    map[string]string `toml:"users"`
	Contexts []SimContext      `toml:"contexts"`
}

type SimContext struct {
	Name          string `toml:"name"`
	SpacecraftID  string `toml:"spacecraft_id"`
	Driver        string `toml:"driver"`
	Family        string `toml:"family"`
	GCSHost       string `toml:"gcs_host"`
	Description   string `toml:"description"`
	MaxProcedures int    `toml:"max_procedures"`
}

func LoadSimConfig(path string) (SimConfig, error) {
	var cfg SimConfig
	if err := loadToml(path, &cfg); err != nil {
		return SimConfig{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", DefaultListenerPort)
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":9989"
	}
	if err := ValidateSimConfig(cfg); err != nil {
		return SimConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateSimConfig(cfg SimConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("sim config missing addr")
	}
	seen := make(map[string]bool, len(cfg.Contexts))
	for i, c := range cfg.Contexts {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return fmt.Errorf("context[%d] invalid: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("context[%d] invalid: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	for id := range cfg.Procedures {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("procedure id is required")
		}
	}
	return nil
}

// Sim converts the file layout to a simulator configuration. Empty sections
// keep the simulator defaults.
func (c SimConfig) Sim() sim.Config {
	out := sim.Config{Addr: c.Addr, Host: c.Host}
	if len(c.Users) > 0 {
		out.Auth = auth.Static(c.Users)
	}
	if len(c.Procedures) > 0 {
		out.Procedures = c.Procedures
	}
	if len(c.Contexts) > 0 {
		out.Contexts = make([]sim.ContextSpec, 0, len(c.Contexts))
		for _, entry := range c.Contexts {
			out.Contexts = append(out.Contexts, sim.ContextSpec{
				Name:          strings.TrimSpace(entry.Name),
				SpacecraftID:  entry.SpacecraftID,
				Driver:        entry.Driver,
				Family:        entry.Family,
				GCSHost:       entry.GCSHost,
				Description:   entry.Description,
				MaxProcedures: entry.MaxProcedures,
			})
		}
	}
	return out
}
