package config

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"olsrv2d/internal/errkind"
)

// ChangeFunc is invoked with the previous and new Config whenever a
// reload is applied. SPEC_FULL.md's core never parses configuration
// itself; it only registers one of these.
type ChangeFunc func(old, new *Config)

// Manager owns one viper instance, the currently-active Config, and the
// list of registered change callbacks — the "typed configuration structs
// plus changed callbacks" interface spec.md §1 requires of the core.
type Manager struct {
	v    *viper.Viper
	mu   sync.Mutex
	cur  *Config
	subs []ChangeFunc
	log  *log.Entry
}

// NewManager creates a Manager reading from path (if non-empty) or from
// viper's configured search paths, defaulting to olsrv2d.yaml idioms used
// across the pack's daemons (guygrigsby-trickster, marmos91-dittofs).
func NewManager(path string) *Manager {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("olsrv2d")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/olsrv2d")
	}
	return &Manager{v: v, log: log.WithField("component", "config")}
}

// Load reads the configuration file and applies it as the first active
// Config (no ChangeFunc is invoked on initial load).
func (m *Manager) Load() (*Config, error) {
	if err := m.v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(errkind.ConfigReject, err.Error())
	}
	cfg := Default()
	if err := m.v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errkind.ConfigReject, err.Error())
	}
	m.mu.Lock()
	m.cur = cfg
	m.mu.Unlock()
	return cfg, nil
}

// Reload re-reads the configuration file (e.g. on SIGHUP) and, if it
// parses successfully and differs from the active config, invokes every
// registered ChangeFunc with (old, new). A reload that fails to parse
// leaves the previous config in effect (ConfigReject — spec.md §7).
func (m *Manager) Reload() error {
	next := Default()
	if err := m.v.ReadInConfig(); err != nil {
		m.log.WithError(err).Warn("config reload rejected: read failed")
		return errors.Wrap(errkind.ConfigReject, err.Error())
	}
	if err := m.v.Unmarshal(next); err != nil {
		m.log.WithError(err).Warn("config reload rejected: parse failed")
		return errors.Wrap(errkind.ConfigReject, err.Error())
	}

	m.mu.Lock()
	old := m.cur
	if reflect.DeepEqual(old, next) {
		m.mu.Unlock()
		return nil
	}
	m.cur = next
	subs := append([]ChangeFunc(nil), m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(old, next)
	}
	return nil
}

// OnChange registers fn to run on every successfully-applied Reload.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Current returns the active configuration.
func (m *Manager) Current() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}
