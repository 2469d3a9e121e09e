package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultDirPerm is the default permissions used when creating directories.
	DefaultDirPerm = 0o700

	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
	defaultNodeIDFileName = "node_id"
)

var (
	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultNodeIDFilePath = filepath.Join(defaultConfigDir, defaultNodeIDFileName)
)

// Config defines the top level configuration for an Intermap node.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Discovery       *DiscoveryConfig       `mapstructure:"discovery"`
	Trace           *TraceConfig           `mapstructure:"trace"`
	Verify          *VerifyConfig          `mapstructure:"verify"`
	Mobility        *MobilityConfig        `mapstructure:"mobility"`
	Transport       *TransportConfig       `mapstructure:"transport"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for an Intermap node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Discovery:       DefaultDiscoveryConfig(),
		Trace:           DefaultTraceConfig(),
		Verify:          DefaultVerifyConfig(),
		Mobility:        DefaultMobilityConfig(),
		Transport:       DefaultTransportConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing. All
// intervals are shortened so tests that drive real timers stay fast.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Discovery:       TestDiscoveryConfig(),
		Trace:           TestTraceConfig(),
		Verify:          TestVerifyConfig(),
		Mobility:        TestMobilityConfig(),
		Transport:       DefaultTransportConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.Discovery.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [discovery] section: %w", err)
	}
	if err := cfg.Trace.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [trace] section: %w", err)
	}
	if err := cfg.Verify.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [verify] section: %w", err)
	}
	if err := cfg.Mobility.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [mobility] section: %w", err)
	}
	if err := cfg.Transport.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [transport] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for an Intermap node.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Extra addresses or hostnames every node should keep probing for
	// cross-network coverage. Hostnames are resolved at startup.
	WellKnownTargets []string `mapstructure:"well_known_targets"`
}

// DefaultBaseConfig returns a default base configuration for an Intermap node.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:  defaultMoniker,
		LogLevel: "info",
		WellKnownTargets: []string{
			"1.1.1.1",
			"8.8.8.8",
			"9.9.9.9",
		},
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.WellKnownTargets = nil
	return cfg
}

// NodeIDFile returns the full path to the node_id file.
func (cfg BaseConfig) NodeIDFile() string {
	return rootify(defaultNodeIDFilePath, cfg.RootDir)
}

//-----------------------------------------------------------------------------
// DiscoveryConfig

// DiscoveryConfig defines the configuration for peer discovery and
// heartbeating over the discovery channel.
type DiscoveryConfig struct {
	RootDir string `mapstructure:"home"`

	// How often to announce our identity to the network.
	AnnounceInterval time.Duration `mapstructure:"announce_interval"`

	// A peer that has been silent for longer than this is evicted.
	PeerTimeout time.Duration `mapstructure:"peer_timeout"`

	// How often to scan the peer set for silent peers.
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// DefaultDiscoveryConfig returns a default configuration for peer discovery.
func DefaultDiscoveryConfig() *DiscoveryConfig {
	return &DiscoveryConfig{
		AnnounceInterval: 60 * time.Second,
		PeerTimeout:      5 * time.Minute,
		EvictionInterval: 2 * time.Minute,
	}
}

// TestDiscoveryConfig returns a discovery configuration for testing.
func TestDiscoveryConfig() *DiscoveryConfig {
	cfg := DefaultDiscoveryConfig()
	cfg.AnnounceInterval = 50 * time.Millisecond
	cfg.PeerTimeout = 200 * time.Millisecond
	cfg.EvictionInterval = 50 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *DiscoveryConfig) ValidateBasic() error {
	if cfg.AnnounceInterval <= 0 {
		return errors.New("announce_interval must be positive")
	}
	if cfg.PeerTimeout <= 0 {
		return errors.New("peer_timeout must be positive")
	}
	if cfg.EvictionInterval <= 0 {
		return errors.New("eviction_interval must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// TraceConfig

// TraceConfig defines the configuration for the probing schedule.
type TraceConfig struct {
	RootDir string `mapstructure:"home"`

	// Maximum number of hops to probe for a single target.
	MaxHops int `mapstructure:"max_hops"`

	// Deadline for a single probe.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// How long to sleep after a full pass over the target set.
	RoundInterval time.Duration `mapstructure:"round_interval"`

	// Whether to expand our external address's network into individual
	// targets.
	AutoMapOwnSubnet bool `mapstructure:"auto_map_own_subnet"`

	// Prefix length used when expanding our own network (e.g. 24 for a /24).
	SubnetPrefixLen int `mapstructure:"subnet_prefix_len"`
}

// DefaultTraceConfig returns a default configuration for the probing
// schedule.
func DefaultTraceConfig() *TraceConfig {
	return &TraceConfig{
		MaxHops:          30,
		ProbeTimeout:     5 * time.Second,
		RoundInterval:    5 * time.Minute,
		AutoMapOwnSubnet: true,
		SubnetPrefixLen:  24,
	}
}

// TestTraceConfig returns a probing configuration for testing.
func TestTraceConfig() *TraceConfig {
	cfg := DefaultTraceConfig()
	cfg.ProbeTimeout = 100 * time.Millisecond
	cfg.RoundInterval = 50 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *TraceConfig) ValidateBasic() error {
	if cfg.MaxHops <= 0 {
		return errors.New("max_hops must be positive")
	}
	if cfg.ProbeTimeout <= 0 {
		return errors.New("probe_timeout must be positive")
	}
	if cfg.RoundInterval <= 0 {
		return errors.New("round_interval must be positive")
	}
	if cfg.SubnetPrefixLen < 8 || cfg.SubnetPrefixLen > 30 {
		return errors.New("subnet_prefix_len must be in [8, 30]")
	}
	return nil
}

//-----------------------------------------------------------------------------
// VerifyConfig

// VerifyConfig defines the configuration for collaborative dead-address
// verification.
type VerifyConfig struct {
	RootDir string `mapstructure:"home"`

	// Number of distinct unreachable votes required to purge an address,
	// provided no node voted reachable.
	Quorum int `mapstructure:"quorum"`

	// How often to evaluate pending records against the quorum rule.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// A pending verification older than this is abandoned and the flag
	// cleared, so the address can be escalated again later.
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`
}

// DefaultVerifyConfig returns a default configuration for verification.
func DefaultVerifyConfig() *VerifyConfig {
	return &VerifyConfig{
		Quorum:         3,
		SweepInterval:  5 * time.Minute,
		PendingTimeout: 10 * time.Minute,
	}
}

// TestVerifyConfig returns a verification configuration for testing.
func TestVerifyConfig() *VerifyConfig {
	cfg := DefaultVerifyConfig()
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.PendingTimeout = 500 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *VerifyConfig) ValidateBasic() error {
	if cfg.Quorum <= 0 {
		return errors.New("quorum must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if cfg.PendingTimeout <= 0 {
		return errors.New("pending_timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// MobilityConfig

// MobilityConfig defines the configuration for external address monitoring.
type MobilityConfig struct {
	RootDir string `mapstructure:"home"`

	// How often to re-check the external address.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// STUN servers queried for our mapped address, tried in order.
	STUNServers []string `mapstructure:"stun_servers"`

	// Deadline for a single STUN query.
	STUNTimeout time.Duration `mapstructure:"stun_timeout"`

	// Whether an address change drops topology nodes attributable to the old
	// location. Off by default: old paths are kept as historical data.
	CleanupOldLocation bool `mapstructure:"cleanup_old_location"`

	// Number of address-change events retained for diagnostics.
	EventHistory int `mapstructure:"event_history"`
}

// DefaultMobilityConfig returns a default configuration for mobility
// monitoring.
func DefaultMobilityConfig() *MobilityConfig {
	return &MobilityConfig{
		HeartbeatInterval: 60 * time.Second,
		STUNServers: []string{
			"stun.l.google.com:19302",
			"stun.cloudflare.com:3478",
		},
		STUNTimeout:        5 * time.Second,
		CleanupOldLocation: false,
		EventHistory:       10,
	}
}

// TestMobilityConfig returns a mobility configuration for testing.
func TestMobilityConfig() *MobilityConfig {
	cfg := DefaultMobilityConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.STUNTimeout = 100 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *MobilityConfig) ValidateBasic() error {
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	if cfg.STUNTimeout <= 0 {
		return errors.New("stun_timeout must be positive")
	}
	if cfg.EventHistory <= 0 {
		return errors.New("event_history must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// TransportConfig

// TransportConfig defines the configuration for the pub/sub transport.
type TransportConfig struct {
	RootDir string `mapstructure:"home"`

	// Address of the IPFS (Kubo) daemon HTTP API.
	APIAddress string `mapstructure:"api_address"`

	// Deadline for a single publish call.
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`

	// Cap on the resubscribe backoff after a dropped subscription.
	ResubscribeMaxBackoff time.Duration `mapstructure:"resubscribe_max_backoff"`
}

// DefaultTransportConfig returns a default configuration for the transport.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		APIAddress:            "127.0.0.1:5001",
		PublishTimeout:        10 * time.Second,
		ResubscribeMaxBackoff: 2 * time.Minute,
	}
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *TransportConfig) ValidateBasic() error {
	if cfg.APIAddress == "" {
		return errors.New("api_address must not be empty")
	}
	if cfg.PublishTimeout <= 0 {
		return errors.New("publish_timeout must be positive")
	}
	if cfg.ResubscribeMaxBackoff <= 0 {
		return errors.New("resubscribe_max_backoff must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	RootDir string `mapstructure:"home"`

	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Maximum number of simultaneous connections.
	// If you want to accept a larger number than the default, make sure
	// you increase your OS limits.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		MaxOpenConnections:   3,
		Namespace:            "intermap",
	}
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	if cfg.Prometheus && cfg.Namespace == "" {
		return errors.New("namespace must not be empty when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If
// runtime fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
