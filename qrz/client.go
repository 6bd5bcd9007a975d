// Package qrz resolves callsigns to grid squares through the QRZ XML API.
// Lookups are serialized and rate limited, and results land in the
// persistent grid cache, including negative results so unknown calls are not
// asked for twice.
package qrz

import (
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gtbridge/gridcache"
	"gtbridge/spot"
)

const defaultBaseURL = "https://xmldata.qrz.com/xml/current/"

// Client is a session-keyed QRZ XML API client. Safe for concurrent use;
// remote lookups run one at a time.
type Client struct {
	username string
	password string
	baseURL  string
	http     *http.Client
	store    *gridcache.Store

	mu          sync.Mutex
	sessionKey  string
	lastRequest time.Time
	minInterval time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient builds a QRZ client backed by the given grid store. The store
// may be nil; lookups then skip persistence.
func NewClient(username, password string, store *gridcache.Store) *Client {
	return &Client{
		username:    username,
		password:    password,
		baseURL:     defaultBaseURL,
		http:        &http.Client{Timeout: 15 * time.Second},
		store:       store,
		minInterval: 2 * time.Second,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// ShouldLookup decides whether a spot warrants a QRZ lookup. Spots that
// already carry a grid are skipped, as are SOTA spots whose grid comes from
// the summit database. In skimmer-only mode the spot must come from a
// skimmer node or carry an activity tag; manual spots of casual stations are
// not worth the API quota.
func ShouldLookup(s *spot.Spot, skimmerOnly bool) bool {
	if s.Grid != "" {
		return false
	}
	if s.Source == spot.SourceSOTA {
		return false
	}
	if !skimmerOnly {
		return true
	}
	return strings.Contains(s.Spotter, "#") || s.Activity != ""
}

// qrzResponse mirrors the XML envelope of both session and lookup calls.
type qrzResponse struct {
	XMLName xml.Name `xml:"QRZDatabase"`
	Session struct {
		Key   string `xml:"Key"`
		Error string `xml:"Error"`
	} `xml:"Session"`
	Callsign struct {
		Call string `xml:"call"`
		Grid string `xml:"grid"`
	} `xml:"Callsign"`
}

// Lookup returns the grid for a callsign. The second result is false on
// transient failures (network, session trouble); those are not cached. A
// definitive "no grid on file" answer returns ("", true) and is cached.
func (c *Client) Lookup(callsign string) (string, bool) {
	if c.store != nil {
		if grid, found, err := c.store.Get(callsign); err == nil && found {
			return grid, true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	grid, ok := c.remoteLookup(callsign, true)
	if !ok {
		return "", false
	}
	if c.store != nil {
		if err := c.store.Put(callsign, grid); err != nil {
			log.Printf("QRZ: caching %s failed: %v", callsign, err)
		}
	}
	return grid, true
}

// Remember records a grid the spot source supplied directly. Source-carried
// grids are authoritative and overwrite whatever the store holds, negative
// entries included.
func (c *Client) Remember(callsign, grid string) {
	if c.store == nil || callsign == "" || grid == "" {
		return
	}
	if err := c.store.Put(callsign, grid); err != nil {
		log.Printf("QRZ: caching source grid for %s failed: %v", callsign, err)
	}
}

// remoteLookup performs one API call, re-establishing the session once when
// the server reports it expired. Caller holds c.mu.
func (c *Client) remoteLookup(callsign string, retryLogin bool) (string, bool) {
	if c.sessionKey == "" {
		if !c.login() {
			return "", false
		}
	}

	resp, err := c.get(url.Values{"s": {c.sessionKey}, "callsign": {callsign}})
	if err != nil {
		log.Printf("QRZ: lookup %s failed: %v", callsign, err)
		return "", false
	}

	if resp.Session.Error != "" {
		errLower := strings.ToLower(resp.Session.Error)
		switch {
		case strings.Contains(errLower, "not found"):
			return "", true
		case strings.Contains(errLower, "session") || strings.Contains(errLower, "timeout"):
			c.sessionKey = ""
			if retryLogin {
				return c.remoteLookup(callsign, false)
			}
			return "", false
		default:
			log.Printf("QRZ: lookup %s: %s", callsign, resp.Session.Error)
			return "", false
		}
	}
	return strings.TrimSpace(resp.Callsign.Grid), true
}

// login fetches a fresh session key. Caller holds c.mu.
func (c *Client) login() bool {
	resp, err := c.get(url.Values{
		"username": {c.username},
		"password": {c.password},
		"agent":    {"gtbridge"},
	})
	if err != nil {
		log.Printf("QRZ: login failed: %v", err)
		return false
	}
	if resp.Session.Error != "" || resp.Session.Key == "" {
		log.Printf("QRZ: login rejected: %s", resp.Session.Error)
		return false
	}
	c.sessionKey = resp.Session.Key
	log.Println("QRZ: session established")
	return true
}

// get performs one rate-limited HTTP request. Caller holds c.mu.
func (c *Client) get(params url.Values) (*qrzResponse, error) {
	if wait := c.minInterval - c.now().Sub(c.lastRequest); wait > 0 {
		c.sleep(wait)
	}
	c.lastRequest = c.now()

	resp, err := c.http.Get(c.baseURL + "?" + params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var parsed qrzResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &parsed, nil
}
