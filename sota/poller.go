// Package sota polls the Summits on the Air API for activator spots. The
// spots endpoint returns recent spots newest first; only the latest spot per
// activator matters, and summit grid squares come from a second endpoint
// cached per summit.
package sota

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"gtbridge/spot"
)

const defaultBaseURL = "https://api2.sota.org.uk/api"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// apiSpot is one entry from the spots endpoint.
type apiSpot struct {
	ID         int64  `json:"id"`
	Activator  string `json:"activatorCallsign"`
	SummitCode string `json:"summitCode"`
	Frequency  string `json:"frequency"` // MHz
	Mode       string `json:"mode"`
	Comments   string `json:"comments"`
	TimeStamp  string `json:"timeStamp"` // 2006-01-02T15:04:05
}

// apiSummit is the summit detail response; only the locator matters here.
type apiSummit struct {
	Locator string `json:"locator"`
}

type activatorState struct {
	id        int64
	frequency float64
	mode      string
	delivered time.Time
}

// Poller fetches SOTA spots on a fixed interval.
type Poller struct {
	http     *http.Client
	baseURL  string
	interval time.Duration
	region   int

	state      map[string]*activatorState
	summitGrid map[string]string // summit code -> 4-char locator, "" when unknown
	spotChan   chan *spot.Spot
	shutdown   chan struct{}
	stopOnce   sync.Once

	now func() time.Time
}

// NewPoller builds a poller refreshing ahead of the given cache TTL.
func NewPoller(ttl time.Duration, region int) *Poller {
	interval := ttl - 30*time.Second
	if interval < 60*time.Second {
		interval = 60 * time.Second
	}
	return &Poller{
		http:       &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		interval:   interval,
		region:     region,
		state:      make(map[string]*activatorState),
		summitGrid: make(map[string]string),
		spotChan:   make(chan *spot.Spot, 100),
		shutdown:   make(chan struct{}),
		now:        time.Now,
	}
}

// GetSpotChannel returns the channel carrying SOTA spots.
func (p *Poller) GetSpotChannel() <-chan *spot.Spot {
	return p.spotChan
}

// Start launches the poll loop with an immediate first fetch.
func (p *Poller) Start() {
	log.Printf("SOTA: polling every %s", p.interval)
	go p.loop()
}

// Stop terminates the poll loop.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	entries, err := p.fetchSpots()
	if err != nil {
		log.Printf("SOTA: fetch failed: %v", err)
		return
	}
	for _, s := range p.process(entries) {
		select {
		case p.spotChan <- s:
		default:
			log.Println("SOTA: spot channel full, dropping spot")
		}
	}
}

func (p *Poller) getJSON(url string, into any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "gtbridge/1.0")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, into)
}

func (p *Poller) fetchSpots() ([]apiSpot, error) {
	var entries []apiSpot
	if err := p.getJSON(p.baseURL+"/spots/50/all", &entries); err != nil {
		return nil, fmt.Errorf("fetching spots: %w", err)
	}
	return entries, nil
}

// summitLocator returns the 4-character grid for a summit, caching both hits
// and misses so each summit is fetched at most once.
func (p *Poller) summitLocator(code string) string {
	if grid, ok := p.summitGrid[code]; ok {
		return grid
	}
	var summit apiSummit
	if err := p.getJSON(p.baseURL+"/summits/"+code, &summit); err != nil {
		log.Printf("SOTA: summit %s lookup failed: %v", code, err)
		p.summitGrid[code] = ""
		return ""
	}
	grid := summit.Locator
	if len(grid) > 4 {
		grid = grid[:4]
	}
	p.summitGrid[code] = grid
	return grid
}

// process reduces the spot list to the newest spot per activator and turns
// the fresh ones into deliverable spots.
func (p *Poller) process(entries []apiSpot) []*spot.Spot {
	now := p.now()
	latest := latestPerActivator(entries)

	var out []*spot.Spot
	seen := make(map[string]bool, len(latest))
	for _, e := range latest {
		s, ok := p.convert(e)
		if !ok {
			continue
		}
		seen[s.DXCall] = true

		st := p.state[s.DXCall]
		fresh := st == nil ||
			st.id != e.ID ||
			st.frequency != s.Frequency ||
			st.mode != s.Mode ||
			now.Sub(st.delivered) >= p.interval
		if !fresh {
			continue
		}
		p.state[s.DXCall] = &activatorState{id: e.ID, frequency: s.Frequency, mode: s.Mode, delivered: now}
		out = append(out, s)
	}

	for call := range p.state {
		if !seen[call] {
			delete(p.state, call)
		}
	}
	return out
}

// latestPerActivator keeps the highest-id spot for each activator.
func latestPerActivator(entries []apiSpot) []apiSpot {
	byCall := make(map[string]apiSpot)
	for _, e := range entries {
		call := spot.NormalizeCallsign(e.Activator)
		if call == "" {
			continue
		}
		if prev, ok := byCall[call]; !ok || e.ID > prev.ID {
			byCall[call] = e
		}
	}
	out := make([]apiSpot, 0, len(byCall))
	for _, e := range byCall {
		out = append(out, e)
	}
	return out
}

// convert maps one API entry to a spot. QRT activators are skipped. SOTA
// frequencies come in MHz and occasionally as garbage; anything outside the
// HF through 70cm range is dropped.
func (p *Poller) convert(e apiSpot) (*spot.Spot, bool) {
	if strings.Contains(strings.ToUpper(e.Comments), "QRT") {
		return nil, false
	}
	mhz, err := strconv.ParseFloat(strings.TrimSpace(e.Frequency), 64)
	if err != nil {
		return nil, false
	}
	freq := mhz * 1000
	if freq < 1800 || freq > 450000 {
		return nil, false
	}
	band := spot.FreqToBand(freq)
	if band == "" {
		return nil, false
	}

	mode := strings.ToUpper(strings.TrimSpace(e.Mode))
	if mode == "OTHER" {
		mode = ""
	}
	if mode == "" {
		mode = spot.InferMode(p.region, freq)
	}

	comment := e.SummitCode
	if c := strings.TrimSpace(e.Comments); c != "" {
		comment = strings.TrimSpace(comment + " " + c)
	}

	s := &spot.Spot{
		DXCall:    spot.NormalizeCallsign(e.Activator),
		Spotter:   "SOTA",
		Frequency: freq,
		Band:      band,
		Mode:      mode,
		Grid:      p.summitLocator(e.SummitCode),
		Comment:   comment,
		TimeUTC:   timeFromTimestamp(e.TimeStamp, p.now),
		Activity:  "SOTA",
		Source:    spot.SourceSOTA,
	}
	if !s.IsValid() {
		return nil, false
	}
	return s, true
}

// timeFromTimestamp extracts HHMM from an ISO timestamp, falling back to the
// current UTC time.
func timeFromTimestamp(ts string, now func() time.Time) string {
	if len(ts) >= 16 && ts[13] == ':' {
		return ts[11:13] + ts[14:16]
	}
	return now().UTC().Format("1504")
}
