package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"text/template"

	imos "github.com/intermap/intermap/libs/os"
)

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and panics if it fails.
func EnsureRoot(rootDir string) {
	if err := imos.EnsureDir(rootDir, DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := imos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := imos.EnsureDir(filepath.Join(rootDir, defaultDataDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}

	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)

	// Write default config file if missing.
	if !imos.FileExists(configFilePath) {
		writeDefaultConfigFile(configFilePath)
	}
}

func writeDefaultConfigFile(configFilePath string) {
	WriteConfigFile(configFilePath, DefaultConfig())
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath.
func WriteConfigFile(configFilePath string, config *Config) {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		panic(err)
	}

	imos.MustWriteFile(configFilePath, buffer.Bytes(), 0o644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/intermap/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.intermap" by default, but could be changed via $INTERMAPHOME env
# variable or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Output level for logging, one of: debug | info | error
log_level = "{{ .BaseConfig.LogLevel }}"

# Extra addresses or hostnames every node keeps probing for cross-network
# coverage. Hostnames are resolved once at startup.
well_known_targets = [{{ range $i, $t := .BaseConfig.WellKnownTargets }}{{ if $i }}, {{ end }}"{{ $t }}"{{ end }}]

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###        Peer Discovery Configuration Options     ###
#######################################################
[discovery]

# How often to announce our identity to the network
announce_interval = "{{ .Discovery.AnnounceInterval }}"

# A peer silent for longer than this is considered gone and evicted
peer_timeout = "{{ .Discovery.PeerTimeout }}"

# How often to scan the peer set for silent peers
eviction_interval = "{{ .Discovery.EvictionInterval }}"

#######################################################
###          Probing Configuration Options          ###
#######################################################
[trace]

# Maximum number of hops to probe for a single target
max_hops = {{ .Trace.MaxHops }}

# Deadline for a single probe
probe_timeout = "{{ .Trace.ProbeTimeout }}"

# How long to sleep after a full pass over the target set
round_interval = "{{ .Trace.RoundInterval }}"

# Whether to expand our external address's network into individual targets
auto_map_own_subnet = {{ .Trace.AutoMapOwnSubnet }}

# Prefix length used when expanding our own network
subnet_prefix_len = {{ .Trace.SubnetPrefixLen }}

#######################################################
###       Verification Configuration Options        ###
#######################################################
[verify]

# Number of distinct unreachable votes required to purge an address,
# provided no node voted reachable
quorum = {{ .Verify.Quorum }}

# How often to evaluate pending records against the quorum rule
sweep_interval = "{{ .Verify.SweepInterval }}"

# A pending verification older than this is abandoned
pending_timeout = "{{ .Verify.PendingTimeout }}"

#######################################################
###         Mobility Configuration Options          ###
#######################################################
[mobility]

# How often to re-check the external address
heartbeat_interval = "{{ .Mobility.HeartbeatInterval }}"

# STUN servers queried for our mapped address, tried in order
stun_servers = [{{ range $i, $s := .Mobility.STUNServers }}{{ if $i }}, {{ end }}"{{ $s }}"{{ end }}]

# Deadline for a single STUN query
stun_timeout = "{{ .Mobility.STUNTimeout }}"

# Whether an address change drops topology nodes attributable to the old
# location; off keeps old paths as historical data
cleanup_old_location = {{ .Mobility.CleanupOldLocation }}

# Number of address-change events retained for diagnostics
event_history = {{ .Mobility.EventHistory }}

#######################################################
###         Transport Configuration Options         ###
#######################################################
[transport]

# Address of the IPFS (Kubo) daemon HTTP API
api_address = "{{ .Transport.APIAddress }}"

# Deadline for a single publish call
publish_timeout = "{{ .Transport.PublishTimeout }}"

# Cap on the resubscribe backoff after a dropped subscription
resubscribe_max_backoff = "{{ .Transport.ResubscribeMaxBackoff }}"

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# prometheus_listen_addr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Maximum number of simultaneous connections.
# If you want to accept a larger number than the default, make sure
# you increase your OS limits.
# 0 - unlimited.
max_open_connections = {{ .Instrumentation.MaxOpenConnections }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
