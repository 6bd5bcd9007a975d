// Package config loads and validates the bridge configuration from YAML.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bridge configuration.
type Config struct {
	Station     StationConfig     `yaml:"station"`
	Clusters    []ClusterConfig   `yaml:"clusters"`
	GridTracker GridTrackerConfig `yaml:"gridtracker"`
	Cache       CacheConfig       `yaml:"cache"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Telnet      TelnetConfig      `yaml:"telnet"`
	POTA        FeedConfig        `yaml:"pota"`
	SOTA        FeedConfig        `yaml:"sota"`
	PSKReporter PSKReporterConfig `yaml:"pskreporter"`
	QRZ         QRZConfig         `yaml:"qrz"`
	GridDB      GridDBConfig      `yaml:"grid_db"`
	Flex        FlexConfig        `yaml:"flex"`
	N1MM        N1MMConfig        `yaml:"n1mm"`
	Admin       AdminConfig       `yaml:"admin"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StationConfig identifies the operator.
type StationConfig struct {
	Callsign string `yaml:"callsign"`
	Grid     string `yaml:"grid"`
	Region   int    `yaml:"region"` // ITU region 1, 2 or 3 for band plan mode inference
}

// ClusterConfig describes one upstream DX cluster connection.
type ClusterConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Name          string   `yaml:"name"`
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	Callsign      string   `yaml:"callsign"` // login callsign; defaults to station callsign
	LoginCommands []string `yaml:"login_commands"`
}

// GridTrackerConfig is the WSJT-X UDP emission target.
type GridTrackerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	CycleSeconds     int    `yaml:"cycle_seconds"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`
}

// CacheConfig controls the spot cache lifetime and filters.
type CacheConfig struct {
	TTLSeconds int      `yaml:"ttl_seconds"`
	Bands      []string `yaml:"bands"` // empty admits all bands
	Modes      []string `yaml:"modes"` // empty admits all modes
}

// DedupConfig contains deduplication settings.
type DedupConfig struct {
	Enabled       bool `yaml:"enabled"`
	WindowSeconds int  `yaml:"window_seconds"`
}

// TelnetConfig configures the downstream telnet re-broadcast server.
type TelnetConfig struct {
	Enabled          bool `yaml:"enabled"`
	Port             int  `yaml:"port"`
	MaxConnections   int  `yaml:"max_connections"`
	ClientBuffer     int  `yaml:"client_buffer"`
	KeepaliveSeconds int  `yaml:"keepalive_seconds"`
}

// FeedConfig is shared by the POTA and SOTA pollers.
type FeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PSKReporterConfig contains PSKReporter MQTT settings.
type PSKReporterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Port    int    `yaml:"port"`
	Topic   string `yaml:"topic"`
}

// QRZConfig contains QRZ XML API lookup settings.
type QRZConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	SkimmerOnly bool   `yaml:"skimmer_only"` // only look up skimmer and activity spots
}

// GridDBConfig locates the persistent grid lookup cache.
type GridDBConfig struct {
	Path string `yaml:"path"`
}

// FlexConfig contains the FlexRadio SmartSDR connection settings.
type FlexConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Slice   int    `yaml:"slice"` // -1 selects a slice by band and mode
}

// N1MMConfig configures the contest logger UDP listener.
type N1MMConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AdminConfig contains admin HTTP interface settings.
type AdminConfig struct {
	HTTPPort    int    `yaml:"http_port"`
	BindAddress string `yaml:"bind_address"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Level         string `yaml:"level"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load loads configuration from a YAML file and applies defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Station.Region == 0 {
		c.Station.Region = 2
	}
	if c.GridTracker.Host == "" {
		c.GridTracker.Host = "127.0.0.1"
	}
	if c.GridTracker.Port == 0 {
		c.GridTracker.Port = 2237
	}
	if c.GridTracker.CycleSeconds == 0 {
		c.GridTracker.CycleSeconds = 15
	}
	if c.GridTracker.HeartbeatSeconds == 0 {
		c.GridTracker.HeartbeatSeconds = 15
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 600
	}
	if c.Dedup.WindowSeconds == 0 {
		c.Dedup.WindowSeconds = 30
	}
	if c.Telnet.Port == 0 {
		c.Telnet.Port = 7300
	}
	if c.Telnet.MaxConnections == 0 {
		c.Telnet.MaxConnections = 50
	}
	if c.Flex.Port == 0 {
		c.Flex.Port = 4992
	}
	if c.Flex.Slice == 0 {
		c.Flex.Slice = -1
	}
	if c.N1MM.Port == 0 {
		c.N1MM.Port = 12060
	}
	for i := range c.Clusters {
		if c.Clusters[i].Callsign == "" {
			c.Clusters[i].Callsign = c.Station.Callsign
		}
		if c.Clusters[i].Name == "" {
			c.Clusters[i].Name = fmt.Sprintf("%s:%d", c.Clusters[i].Host, c.Clusters[i].Port)
		}
	}
}

// Validate rejects configurations that cannot run at all. A malformed
// cluster entry only disables that entry: one bad upstream in the list must
// not take the whole bridge down.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Station.Callsign) == "" {
		return fmt.Errorf("station.callsign is required")
	}
	if c.Station.Region < 1 || c.Station.Region > 3 {
		return fmt.Errorf("station.region must be 1, 2 or 3")
	}
	for i := range c.Clusters {
		cl := &c.Clusters[i]
		if !cl.Enabled {
			continue
		}
		if reason := clusterProblem(cl); reason != "" {
			log.Printf("Warning: clusters[%d] (%s): %s, entry disabled", i, cl.Name, reason)
			cl.Enabled = false
		}
	}
	if c.QRZ.Enabled && (c.QRZ.Username == "" || c.QRZ.Password == "") {
		return fmt.Errorf("qrz: username and password are required when enabled")
	}
	if c.PSKReporter.Enabled && c.PSKReporter.Broker == "" {
		return fmt.Errorf("pskreporter: broker is required when enabled")
	}
	if c.Flex.Enabled && c.Flex.Host == "" {
		return fmt.Errorf("flex: host is required when enabled")
	}
	return nil
}

// clusterProblem describes why a cluster entry cannot be used, or returns
// the empty string for a complete entry.
func clusterProblem(cl *ClusterConfig) string {
	if strings.TrimSpace(cl.Host) == "" {
		return "host is required"
	}
	if cl.Port <= 0 || cl.Port > 65535 {
		return fmt.Sprintf("port %d out of range", cl.Port)
	}
	if strings.TrimSpace(cl.Callsign) == "" {
		return "callsign is required"
	}
	return ""
}

// NodeCall is the callsign the downstream telnet node announces itself as.
func (c *Config) NodeCall() string {
	return c.Station.Callsign + "-2"
}

// Print displays the effective configuration.
func (c *Config) Print() {
	fmt.Printf("Station: %s (%s), region %d\n", c.Station.Callsign, c.Station.Grid, c.Station.Region)
	for _, cl := range c.Clusters {
		if cl.Enabled {
			fmt.Printf("Cluster: %s (%s:%d as %s)\n", cl.Name, cl.Host, cl.Port, cl.Callsign)
		}
	}
	fmt.Printf("GridTracker: %s:%d every %ds\n", c.GridTracker.Host, c.GridTracker.Port, c.GridTracker.CycleSeconds)
	fmt.Printf("Cache: ttl=%ds", c.Cache.TTLSeconds)
	if len(c.Cache.Bands) > 0 {
		fmt.Printf(" bands=%s", strings.Join(c.Cache.Bands, ","))
	}
	if len(c.Cache.Modes) > 0 {
		fmt.Printf(" modes=%s", strings.Join(c.Cache.Modes, ","))
	}
	fmt.Println()
	if c.Telnet.Enabled {
		fmt.Printf("Telnet: port %d as %s\n", c.Telnet.Port, c.NodeCall())
	}
	if c.POTA.Enabled {
		fmt.Println("POTA feed: enabled")
	}
	if c.SOTA.Enabled {
		fmt.Println("SOTA feed: enabled")
	}
	if c.PSKReporter.Enabled {
		fmt.Printf("PSKReporter: %s:%d (topic: %s)\n", c.PSKReporter.Broker, c.PSKReporter.Port, c.PSKReporter.Topic)
	}
	if c.QRZ.Enabled {
		fmt.Printf("QRZ lookups: enabled (skimmer only: %v)\n", c.QRZ.SkimmerOnly)
	}
	if c.Flex.Enabled {
		fmt.Printf("FlexRadio: %s:%d\n", c.Flex.Host, c.Flex.Port)
	}
	if c.N1MM.Enabled {
		fmt.Printf("N1MM listener: port %d\n", c.N1MM.Port)
	}
}

// DefaultYAML is a commented starter configuration written on first run.
const DefaultYAML = `station:
  callsign: N0CALL
  grid: AA00aa
  region: 2

clusters:
  - enabled: true
    name: ve7cc
    host: dxc.ve7cc.net
    port: 23
    login_commands:
      - set/skimmer
      - set/ft8

gridtracker:
  host: 127.0.0.1
  port: 2237
  cycle_seconds: 15
  heartbeat_seconds: 15

cache:
  ttl_seconds: 600
  bands: []
  modes: []

dedup:
  enabled: true
  window_seconds: 30

telnet:
  enabled: true
  port: 7300
  max_connections: 50

pota:
  enabled: false

sota:
  enabled: false

pskreporter:
  enabled: false
  broker: mqtt.pskreporter.info
  port: 1883
  topic: "pskr/filter/v2/+/FT8/#"

qrz:
  enabled: false
  username: ""
  password: ""
  skimmer_only: true

grid_db:
  path: grids.db

flex:
  enabled: false
  host: ""
  port: 4992
  slice: -1

n1mm:
  enabled: false
  port: 12060

admin:
  http_port: 8080
  bind_address: 127.0.0.1

logging:
  enabled: true
  level: info
  dir: logs
  retention_days: 7
`

// WriteDefault writes the starter configuration to filename, refusing to
// overwrite an existing file.
func WriteDefault(filename string) error {
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("%s already exists", filename)
	}
	return os.WriteFile(filename, []byte(DefaultYAML), 0o644)
}
