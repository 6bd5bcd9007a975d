// Program gtbridge wires together the spot ingest clients (DX cluster telnet,
// POTA, SOTA, PSKReporter), the deduplicator and spot cache, and the output
// surfaces: WSJT-X UDP emission toward GridTracker, the downstream telnet
// re-broadcast server, and FlexRadio tune requests.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gtbridge/cache"
	"gtbridge/cluster"
	"gtbridge/config"
	"gtbridge/dedup"
	"gtbridge/flex"
	"gtbridge/gridcache"
	"gtbridge/metrics"
	"gtbridge/n1mm"
	"gtbridge/pota"
	"gtbridge/pskreporter"
	"gtbridge/qrz"
	"gtbridge/sota"
	"gtbridge/spot"
	"gtbridge/stats"
	"gtbridge/telnet"
	"gtbridge/wsjtx"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"
)

const (
	defaultConfigPath = "config.yaml"
	envConfigPath     = "GTB_CONFIG_PATH"

	statsInterval = 60 * time.Second
	sweepInterval = 10 * time.Second
)

// Version will be set at build time
var Version = "dev"

// bridge holds the long-lived components the spot pipeline needs.
type bridge struct {
	cfg     *config.Config
	tracker *stats.Tracker
	metrics *metrics.Metrics

	spotCache    *cache.Cache
	deduplicator *dedup.Deduplicator
	emitter      *wsjtx.Emitter
	telnetServer *telnet.Server
	qrzClient    *qrz.Client
	flexClient   *flex.Client
}

// loadBridgeConfig tries the explicit path first, then the env override,
// then the default location.
func loadBridgeConfig(flagPath string) (*config.Config, string, error) {
	candidates := make([]string, 0, 3)
	if flagPath != "" {
		candidates = append(candidates, flagPath)
	}
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, defaultConfigPath)

	var lastErr error
	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if os.IsNotExist(err) {
				lastErr = err
				continue
			}
			return nil, path, err
		}
		return cfg, path, nil
	}
	return nil, "", fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	writeConfig := flag.Bool("write-config", false, "write a default configuration file and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gtbridge v%s\n", Version)
		return
	}
	if *writeConfig {
		path := *configPath
		if path == "" {
			path = defaultConfigPath
		}
		if err := config.WriteDefault(path); err != nil {
			log.Fatalf("Error writing default config: %v", err)
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return
	}

	cfg, configSource, err := loadBridgeConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	fanout, logErr := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Warning: file logging disabled: %v", logErr)
	}

	log.Printf("gtbridge v%s starting...", Version)
	log.Printf("Loaded configuration from %s", configSource)
	if isStdoutTTY() {
		cfg.Print()
	} else {
		log.Printf("Station %s (%s), region %d", cfg.Station.Callsign, cfg.Station.Grid, cfg.Station.Region)
	}

	b := &bridge{
		cfg:     cfg,
		tracker: stats.NewTracker(),
		metrics: metrics.New(),
	}

	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	b.spotCache = cache.New(cacheTTL, cfg.Cache.Bands, cfg.Cache.Modes)
	log.Printf("Spot cache: ttl=%s bands=%v modes=%v", cacheTTL, cfg.Cache.Bands, cfg.Cache.Modes)

	if cfg.Dedup.Enabled {
		b.deduplicator = dedup.New(time.Duration(cfg.Dedup.WindowSeconds) * time.Second)
		b.deduplicator.Start()
		defer b.deduplicator.Stop()
		log.Printf("Deduplication active with %ds window", cfg.Dedup.WindowSeconds)
	} else {
		log.Println("Deduplication disabled; spots pass through unfiltered")
	}

	// Persistent grid store backs QRZ lookups so each callsign costs at most
	// one API call across restarts.
	var gridStore *gridcache.Store
	if cfg.QRZ.Enabled {
		gridStore, err = gridcache.Open(cfg.GridDB.Path)
		if err != nil {
			log.Printf("Warning: grid store disabled: %v", err)
		} else {
			defer gridStore.Close()
			if n, countErr := gridStore.Count(); countErr == nil {
				log.Printf("Grid store: %s (%d cached callsigns)", cfg.GridDB.Path, n)
			}
		}
		b.qrzClient = qrz.NewClient(cfg.QRZ.Username, cfg.QRZ.Password, gridStore)
		log.Printf("QRZ lookups enabled (skimmer_only=%v)", cfg.QRZ.SkimmerOnly)
	}

	if cfg.Flex.Enabled {
		b.flexClient = flex.NewClient(cfg.Flex.Host, cfg.Flex.Port, cfg.Flex.Slice)
		if err := b.flexClient.Connect(); err != nil {
			log.Printf("Warning: FlexRadio connect failed: %v", err)
		}
		defer b.flexClient.Stop()
	}

	if cfg.Telnet.Enabled {
		b.telnetServer = telnet.NewServer(cfg.Telnet.Port, cfg.NodeCall(),
			cfg.Telnet.MaxConnections, cfg.Telnet.ClientBuffer,
			time.Duration(cfg.Telnet.KeepaliveSeconds)*time.Second)
		if err := b.telnetServer.Start(); err != nil {
			log.Fatalf("Failed to start telnet server: %v", err)
		}
		defer b.telnetServer.Stop()
		log.Printf("Connect via: telnet localhost %d", cfg.Telnet.Port)
	}

	target := fmt.Sprintf("%s:%d", cfg.GridTracker.Host, cfg.GridTracker.Port)
	b.emitter, err = wsjtx.NewEmitter(target, cfg.Station.Callsign, cfg.Station.Grid,
		time.Duration(cfg.GridTracker.CycleSeconds)*time.Second,
		time.Duration(cfg.GridTracker.HeartbeatSeconds)*time.Second,
		b.spotCache, b.handleReply)
	if err != nil {
		log.Fatalf("Failed to create GridTracker emitter: %v", err)
	}
	b.emitter.Start()
	defer b.emitter.Stop()
	log.Printf("Emitting WSJT-X UDP to %s every %ds", target, cfg.GridTracker.CycleSeconds)

	// All ingest feeds converge on a single channel so the pipeline stays
	// single-threaded through dedupe, grid lookup and cache admission.
	ingest := make(chan *spot.Spot, 512)

	var clusterClients []*cluster.Client
	for _, cc := range cfg.Clusters {
		if !cc.Enabled {
			continue
		}
		client := cluster.NewClient(cc, cfg.Station.Region)
		if err := client.Connect(); err != nil {
			log.Printf("Warning: failed to connect to %s: %v", client.Name(), err)
		}
		clusterClients = append(clusterClients, client)
		go pump(client.GetSpotChannel(), ingest)
		log.Printf("Cluster feed %s -> pipeline", client.Name())
	}
	defer func() {
		for _, c := range clusterClients {
			c.Stop()
		}
	}()

	if cfg.POTA.Enabled {
		poller := pota.NewPoller(cacheTTL, cfg.Station.Region)
		poller.Start()
		defer poller.Stop()
		go pump(poller.GetSpotChannel(), ingest)
		log.Println("POTA poller feeding spots into pipeline")
	}

	if cfg.SOTA.Enabled {
		poller := sota.NewPoller(cacheTTL, cfg.Station.Region)
		poller.Start()
		defer poller.Stop()
		go pump(poller.GetSpotChannel(), ingest)
		log.Println("SOTA poller feeding spots into pipeline")
	}

	var pskrClient *pskreporter.Client
	if cfg.PSKReporter.Enabled {
		pskrClient = pskreporter.NewClient(cfg.PSKReporter.Broker, cfg.PSKReporter.Port, cfg.PSKReporter.Topic)
		if err := pskrClient.Connect(); err != nil {
			log.Printf("Warning: failed to connect to PSKReporter: %v", err)
		} else {
			go pump(pskrClient.GetSpotChannel(), ingest)
			log.Println("PSKReporter client feeding spots into pipeline")
		}
		defer pskrClient.Stop()
	}

	if cfg.N1MM.Enabled {
		listener := n1mm.NewListener(cfg.N1MM.Port, cfg.Station.Grid, func(q wsjtx.QSOLogged) {
			b.emitter.SendQSOLogged(q)
			b.metrics.QSOsLogged.Inc()
		})
		if err := listener.Start(); err != nil {
			log.Printf("Warning: N1MM listener disabled: %v", err)
		} else {
			defer listener.Stop()
		}
	}

	stop := make(chan struct{})
	go b.processSpots(ingest)
	go b.maintenanceLoop(stop, clusterClients)
	go b.statsLoop(stop)
	b.metrics.StartResourceUpdater(30*time.Second, stop)

	if cfg.Admin.HTTPPort > 0 {
		go b.serveAdmin(clusterClients, pskrClient)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Println("Bridge is running. Press Ctrl+C to stop.")
	sig := <-sigChan
	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down gracefully...")
	close(stop)
}

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// pump forwards spots from a feed channel into the shared ingest channel.
func pump(from <-chan *spot.Spot, to chan<- *spot.Spot) {
	for s := range from {
		to <- s
	}
}

// processSpots is the single consumer of the ingest channel: dedupe, grid
// backfill, cache admission, instance announcement, telnet re-broadcast.
func (b *bridge) processSpots(ingest <-chan *spot.Spot) {
	for s := range ingest {
		b.tracker.IncrementSource(string(s.Source))
		b.metrics.SpotsReceived.WithLabelValues(string(s.Source)).Inc()

		if b.deduplicator != nil && b.deduplicator.IsDuplicate(s) {
			b.tracker.IncrementDuplicates()
			b.metrics.SpotsDuplicate.Inc()
			continue
		}

		b.backfillGrid(s)

		admitted, newInstance := b.spotCache.Upsert(s)
		if !admitted {
			b.tracker.IncrementFiltered()
			b.metrics.SpotsFiltered.Inc()
			continue
		}
		b.tracker.IncrementMode(s.Mode)
		b.tracker.IncrementSourceMode(string(s.Source), s.Mode)
		b.tracker.IncrementEmitted()
		b.metrics.SpotsEmitted.WithLabelValues(s.Band, s.Mode).Inc()

		if newInstance {
			b.emitter.AnnounceInstance(cache.Instance{Band: s.Band, Mode: s.Mode})
		}
		if b.telnetServer != nil {
			b.telnetServer.BroadcastSpot(s)
		}
	}
}

// backfillGrid fills a missing locator from the QRZ client. Grids carried by
// the spot itself always win and are written back to the store; SOTA spots
// are already resolved via the summit database.
func (b *bridge) backfillGrid(s *spot.Spot) {
	if b.qrzClient == nil {
		return
	}
	if s.Grid != "" {
		if s.Source != spot.SourceSOTA {
			b.qrzClient.Remember(s.DXCall, s.Grid)
		}
		return
	}
	if !qrz.ShouldLookup(s, b.cfg.QRZ.SkimmerOnly) {
		return
	}
	b.tracker.IncrementGridLookups()
	b.metrics.GridLookups.Inc()
	if grid, ok := b.qrzClient.Lookup(s.DXCall); ok {
		s.Grid = grid
		b.metrics.GridHits.Inc()
	}
}

// handleReply resolves a GridTracker double click back to a cached spot and
// forwards it to the radio.
func (b *bridge) handleReply(r wsjtx.Reply) {
	band, mode, ok := wsjtx.ParseInstanceID(r.ID)
	if !ok {
		log.Printf("DEBUG: reply with unrecognized instance id %q", r.ID)
		return
	}
	call := callFromCQMessage(r.Message)
	if call == "" {
		log.Printf("DEBUG: reply message %q has no callsign", r.Message)
		return
	}
	entry, found := b.spotCache.Find(call, band, mode)
	if !found {
		log.Printf("Tune request for %s on %s %s: no cached spot", call, band, mode)
		return
	}
	log.Printf("Tune request: %s", entry.Spot)
	if b.flexClient != nil && b.flexClient.IsConnected() {
		if err := b.flexClient.Tune(entry.Spot); err != nil {
			log.Printf("Warning: tune failed: %v", err)
		}
	}
}

// callFromCQMessage extracts the callsign from a "CQ [POTA|SOTA|DX] CALL GRID"
// decode message.
func callFromCQMessage(message string) string {
	fields := strings.Fields(message)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "CQ") {
		return ""
	}
	call := fields[1]
	switch strings.ToUpper(call) {
	case "POTA", "SOTA", "DX":
		if len(fields) < 3 {
			return ""
		}
		call = fields[2]
	}
	return spot.NormalizeCallsign(call)
}

// maintenanceLoop sweeps expired cache entries and refreshes gauges.
func (b *bridge) maintenanceLoop(stop <-chan struct{}, clusters []*cluster.Client) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if evicted := b.spotCache.Sweep(); evicted > 0 {
				log.Printf("DEBUG: cache sweep evicted %d entries", evicted)
			}
			b.metrics.CacheLive.Set(float64(b.spotCache.Len()))
			b.metrics.CacheStale.Set(float64(b.spotCache.StaleLen()))
			b.metrics.Instances.Set(float64(len(b.spotCache.Instances())))
			if b.telnetServer != nil {
				b.metrics.TelnetClients.Set(float64(b.telnetServer.ClientCount()))
			}
			up := 0.0
			for _, c := range clusters {
				if c.IsConnected() {
					up = 1.0
					break
				}
			}
			b.metrics.ClusterUp.Set(up)
		}
	}
}

// statsLoop logs a periodic summary.
func (b *bridge) statsLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, line := range b.tracker.SnapshotLines() {
				log.Println(line)
			}
			log.Printf("Cache: %d live, %d stale, %d instances",
				b.spotCache.Len(), b.spotCache.StaleLen(), len(b.spotCache.Instances()))
		}
	}
}

// bridgeStatus is the admin /status payload.
type bridgeStatus struct {
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	SpotsTotal    uint64            `json:"spots_total"`
	SpotsEmitted  uint64            `json:"spots_emitted"`
	Duplicates    uint64            `json:"duplicates"`
	Filtered      uint64            `json:"filtered"`
	CacheLive     int               `json:"cache_live"`
	CacheStale    int               `json:"cache_stale"`
	Instances     []string          `json:"instances"`
	TelnetClients int               `json:"telnet_clients"`
	Feeds         map[string]bool   `json:"feeds"`
	BySource      map[string]uint64 `json:"by_source"`
	ByMode        map[string]uint64 `json:"by_mode"`
}

// serveAdmin exposes Prometheus metrics, pprof and a JSON status endpoint.
func (b *bridge) serveAdmin(clusters []*cluster.Client, pskr *pskreporter.Client) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/pprof/", http.HandlerFunc(httppprof.Index))
	mux.Handle("/debug/pprof/cmdline", http.HandlerFunc(httppprof.Cmdline))
	mux.Handle("/debug/pprof/profile", http.HandlerFunc(httppprof.Profile))
	mux.Handle("/debug/pprof/symbol", http.HandlerFunc(httppprof.Symbol))
	mux.Handle("/debug/pprof/trace", http.HandlerFunc(httppprof.Trace))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		instances := b.spotCache.Instances()
		ids := make([]string, 0, len(instances))
		for _, inst := range instances {
			ids = append(ids, wsjtx.InstanceID(inst))
		}
		feeds := make(map[string]bool)
		for _, c := range clusters {
			feeds[c.Name()] = c.IsConnected()
		}
		if pskr != nil {
			feeds["pskreporter"] = pskr.IsConnected()
		}
		status := bridgeStatus{
			Version:       Version,
			Uptime:        b.tracker.GetUptime().Round(time.Second).String(),
			SpotsTotal:    b.tracker.GetTotal(),
			SpotsEmitted:  b.tracker.Emitted(),
			Duplicates:    b.tracker.Duplicates(),
			Filtered:      b.tracker.Filtered(),
			CacheLive:     b.spotCache.Len(),
			CacheStale:    b.spotCache.StaleLen(),
			Instances:     ids,
			TelnetClients: b.telnetClientCount(),
			Feeds:         feeds,
			BySource:      b.tracker.GetSourceCounts(),
			ByMode:        b.tracker.GetModeCounts(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := jsoniter.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Warning: status encode failed: %v", err)
		}
	})

	addr := fmt.Sprintf("%s:%d", b.cfg.Admin.BindAddress, b.cfg.Admin.HTTPPort)
	log.Printf("Admin HTTP on http://%s (/status, /metrics)", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Warning: admin HTTP server stopped: %v", err)
	}
}

func (b *bridge) telnetClientCount() int {
	if b.telnetServer == nil {
		return 0
	}
	return b.telnetServer.ClientCount()
}
