package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, `
station:
  callsign: K1ABC
  grid: FN42
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Station.Region != 2 {
		t.Errorf("Region = %d, want default 2", cfg.Station.Region)
	}
	if cfg.GridTracker.Host != "127.0.0.1" || cfg.GridTracker.Port != 2237 {
		t.Errorf("GridTracker default = %s:%d", cfg.GridTracker.Host, cfg.GridTracker.Port)
	}
	if cfg.GridTracker.CycleSeconds != 15 || cfg.GridTracker.HeartbeatSeconds != 15 {
		t.Errorf("cycle/heartbeat = %d/%d, want 15/15",
			cfg.GridTracker.CycleSeconds, cfg.GridTracker.HeartbeatSeconds)
	}
	if cfg.Cache.TTLSeconds != 600 {
		t.Errorf("TTLSeconds = %d, want 600", cfg.Cache.TTLSeconds)
	}
	if cfg.Flex.Slice != -1 {
		t.Errorf("Flex.Slice = %d, want -1", cfg.Flex.Slice)
	}
	if cfg.NodeCall() != "K1ABC-2" {
		t.Errorf("NodeCall = %q", cfg.NodeCall())
	}
}

func TestLoadClusterInheritsCallsign(t *testing.T) {
	cfg, err := Load(writeTemp(t, `
station:
  callsign: K1ABC
clusters:
  - enabled: true
    host: dxc.example.net
    port: 7300
  - enabled: true
    host: other.example.net
    port: 23
    callsign: K1ABC-5
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Clusters[0].Callsign; got != "K1ABC" {
		t.Errorf("inherited callsign = %q", got)
	}
	if got := cfg.Clusters[1].Callsign; got != "K1ABC-5" {
		t.Errorf("explicit callsign = %q", got)
	}
	if got := cfg.Clusters[0].Name; got != "dxc.example.net:7300" {
		t.Errorf("default name = %q", got)
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing callsign",
			yaml: "station:\n  grid: FN42\n",
			want: "station.callsign",
		},
		{
			name: "bad region",
			yaml: "station:\n  callsign: K1ABC\n  region: 4\n",
			want: "station.region",
		},
		{
			name: "qrz without credentials",
			yaml: "station:\n  callsign: K1ABC\nqrz:\n  enabled: true\n",
			want: "qrz",
		},
		{
			name: "flex without host",
			yaml: "station:\n  callsign: K1ABC\nflex:\n  enabled: true\n",
			want: "flex",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.yaml))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestMalformedClusterDisabledNotFatal(t *testing.T) {
	cfg, err := Load(writeTemp(t, `
station:
  callsign: K1ABC
clusters:
  - enabled: true
    name: broken
    port: 23
  - enabled: true
    name: good
    host: dxc.example.net
    port: 7300
`))
	if err != nil {
		t.Fatalf("config with one bad cluster rejected: %v", err)
	}
	if cfg.Clusters[0].Enabled {
		t.Error("cluster without host left enabled")
	}
	if !cfg.Clusters[1].Enabled {
		t.Error("well-formed cluster disabled")
	}
}

func TestDisabledClusterSkipsValidation(t *testing.T) {
	_, err := Load(writeTemp(t, `
station:
  callsign: K1ABC
clusters:
  - enabled: false
`))
	if err != nil {
		t.Errorf("disabled cluster rejected: %v", err)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault overwrote an existing file")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("default config does not load: %v", err)
	}
	if len(cfg.Clusters) != 1 || cfg.Clusters[0].Host != "dxc.ve7cc.net" {
		t.Errorf("default cluster = %+v", cfg.Clusters)
	}
	if !cfg.Dedup.Enabled || cfg.Dedup.WindowSeconds != 30 {
		t.Errorf("default dedup = %+v", cfg.Dedup)
	}
}
