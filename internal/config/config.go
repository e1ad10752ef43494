// Package config defines the typed configuration surface olsrv2d's core
// consumes (SPEC_FULL.md §1: "the core only consumes typed configuration
// structs and changed callbacks"). The struct family mirrors
// guygrigsby-trickster's TricksterConfig/*Config layout — one struct per
// concern, a defaults constructor per struct, and a Copy() for
// change-diffing — populated here from github.com/spf13/viper instead of
// TOML metadata reflection.
package config

import "time"

// Config is the root configuration document.
type Config struct {
	Interfaces []InterfaceConfig `mapstructure:"interface"`
	Domains    []DomainConfig    `mapstructure:"domain"`
	Routing    RoutingConfig     `mapstructure:"routing"`
	Layer2     []Layer2Entry     `mapstructure:"layer2"`
}

// InterfaceConfig is the per-NHDP-interface surface (spec.md §6).
type InterfaceConfig struct {
	Name string `mapstructure:"name"`

	HelloInterval      time.Duration `mapstructure:"hello_interval"`
	HelloValidity      time.Duration `mapstructure:"hello_validity"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	AggregationInterval time.Duration `mapstructure:"aggregation_interval"`

	ACL           []string `mapstructure:"acl"`
	BindAddress   string   `mapstructure:"bind_address"`
	UnicastPort   uint16   `mapstructure:"unicast_port"`
	MulticastPort uint16   `mapstructure:"multicast_port"`
	DSCP          uint8    `mapstructure:"dscp"`
	MulticastTTL  uint8    `mapstructure:"multicast_ttl"`
	RawIPMode     bool     `mapstructure:"raw_ip_mode"`
	LoopMulticast bool     `mapstructure:"loop_multicast"`
	Mesh          bool     `mapstructure:"mesh"`

	DAT DATConfig `mapstructure:"dat"`
}

// DATConfig is the per-interface DATMetric surface (spec.md §6).
type DATConfig struct {
	ETTEnabled     bool   `mapstructure:"ett_enabled"`
	LossExponent   string `mapstructure:"loss_exponent"` // linear|quadratic|cubic|dynamic
	MICEnabled     bool   `mapstructure:"mic_enabled"`
	AcceptUnicast  bool   `mapstructure:"accept_unicast"`
}

// DomainConfig is the per-routing-domain surface (spec.md §6).
type DomainConfig struct {
	ID             uint8  `mapstructure:"id"`
	MetricName     string `mapstructure:"metric"`
	MPRName        string `mapstructure:"mpr"`
	LocalWillingness uint8 `mapstructure:"willingness"`

	// SourceSpecific declares this node's own per-domain source-specific
	// flag (spec.md §3 TcNode field, §4.9 ss_split), advertised in this
	// node's own TC the same way ANSN is.
	SourceSpecific bool `mapstructure:"source_specific"`
}

// RoutingConfig is the per-domain route-install surface (spec.md §6).
type RoutingConfig struct {
	TableID       int  `mapstructure:"table_id"`
	ProtocolID    int  `mapstructure:"protocol_id"`
	Distance      int  `mapstructure:"distance"`
	UseSrcIPInV4  bool `mapstructure:"use_srcip_in_v4"`
}

// Layer2Entry is one declarative Layer2 "config" overlay entry (spec.md
// §6: l2net, l2net_ip, l2default, l2neighbor, l2neighbor_ip, l2destination).
type Layer2Entry struct {
	Kind      string `mapstructure:"kind"`
	Interface string `mapstructure:"interface"`
	Key       string `mapstructure:"key"`
	Value     string `mapstructure:"value"`
	Overwrite bool   `mapstructure:"overwrite"`
}

// Default returns a Config with the teacher-style sane defaults.
func Default() *Config {
	return &Config{
		Routing: RoutingConfig{
			TableID:    254,
			ProtocolID: 100,
			Distance:   3,
		},
	}
}

// Copy returns a deep copy suitable for diffing against the next load.
func (c *Config) Copy() *Config {
	cp := *c
	cp.Interfaces = append([]InterfaceConfig(nil), c.Interfaces...)
	for i := range cp.Interfaces {
		cp.Interfaces[i].ACL = append([]string(nil), c.Interfaces[i].ACL...)
	}
	cp.Domains = append([]DomainConfig(nil), c.Domains...)
	cp.Layer2 = append([]Layer2Entry(nil), c.Layer2...)
	return &cp
}

// InterfaceDefault returns the teacher-style default values for a single
// NHDP interface (used when a loaded document does not specify a field).
func InterfaceDefault(name string) InterfaceConfig {
	return InterfaceConfig{
		Name:                name,
		HelloInterval:       2 * time.Second,
		HelloValidity:       6 * time.Second,
		RefreshInterval:     2 * time.Second,
		AggregationInterval: 100 * time.Millisecond,
		UnicastPort:         698,
		MulticastPort:       698,
		MulticastTTL:        1,
		DAT: DATConfig{
			ETTEnabled:   true,
			LossExponent: "linear",
		},
	}
}
