package qrz

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"gtbridge/gridcache"
	"gtbridge/spot"
)

const sessionXML = `<QRZDatabase><Session><Key>testkey123</Key></Session></QRZDatabase>`

func lookupXML(call, grid string) string {
	return fmt.Sprintf(`<QRZDatabase><Session><Key>testkey123</Key></Session><Callsign><call>%s</call><grid>%s</grid></Callsign></QRZDatabase>`, call, grid)
}

func errorXML(msg string) string {
	return fmt.Sprintf(`<QRZDatabase><Session><Error>%s</Error></Session></QRZDatabase>`, msg)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, withStore bool) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var store *gridcache.Store
	if withStore {
		var err error
		store, err = gridcache.Open(filepath.Join(t.TempDir(), "grids.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
	}

	c := NewClient("user", "pass", store)
	c.baseURL = srv.URL + "/"
	c.sleep = func(time.Duration) {}
	return c
}

func TestLookupLoginThenFetch(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("username") != "" {
			calls = append(calls, "login")
			fmt.Fprint(w, sessionXML)
			return
		}
		calls = append(calls, "lookup:"+q.Get("callsign"))
		if q.Get("s") != "testkey123" {
			fmt.Fprint(w, errorXML("Invalid session key"))
			return
		}
		fmt.Fprint(w, lookupXML(q.Get("callsign"), "PM95xk"))
	}, false)

	grid, ok := c.Lookup("JA1ABC")
	if !ok || grid != "PM95xk" {
		t.Fatalf("Lookup = %q, %v", grid, ok)
	}
	if len(calls) != 2 || calls[0] != "login" || calls[1] != "lookup:JA1ABC" {
		t.Errorf("call sequence = %v", calls)
	}
}

func TestLookupNotFoundIsDefinitive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") != "" {
			fmt.Fprint(w, sessionXML)
			return
		}
		fmt.Fprint(w, errorXML("Not found: XX9XX"))
	}, true)

	grid, ok := c.Lookup("XX9XX")
	if !ok || grid != "" {
		t.Fatalf("Lookup = %q, %v; want definitive empty", grid, ok)
	}

	// The negative result is cached.
	cached, found, err := c.store.Get("XX9XX")
	if err != nil || !found || cached != "" {
		t.Errorf("negative cache = %q, %v, %v", cached, found, err)
	}
}

func TestLookupSessionExpiryRetriesOnce(t *testing.T) {
	lookups := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") != "" {
			fmt.Fprint(w, sessionXML)
			return
		}
		lookups++
		if lookups == 1 {
			fmt.Fprint(w, errorXML("Session Timeout"))
			return
		}
		fmt.Fprint(w, lookupXML("OH2BH", "KP20"))
	}, false)

	// Prime a stale session key so the first lookup hits the timeout path.
	c.sessionKey = "stale"
	grid, ok := c.Lookup("OH2BH")
	if !ok || grid != "KP20" {
		t.Fatalf("Lookup after expiry = %q, %v", grid, ok)
	}
	if lookups != 2 {
		t.Errorf("lookup attempts = %d, want 2", lookups)
	}
}

func TestLookupTransientFailureNotCached(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, true)

	if _, ok := c.Lookup("JA1ABC"); ok {
		t.Fatal("transient failure reported as definitive")
	}
	if _, found, _ := c.store.Get("JA1ABC"); found {
		t.Error("transient failure was cached")
	}
}

func TestLookupPrefersStore(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("remote lookup despite cached entry")
	}, true)
	if err := c.store.Put("JA1ABC", "PM95"); err != nil {
		t.Fatal(err)
	}
	grid, ok := c.Lookup("JA1ABC")
	if !ok || grid != "PM95" {
		t.Errorf("Lookup = %q, %v", grid, ok)
	}
}

func TestRememberPersistsSourceGrid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected")
	}, true)

	c.Remember("JA1ABC", "PM95")
	grid, found, err := c.store.Get("JA1ABC")
	if err != nil || !found || grid != "PM95" {
		t.Errorf("stored grid = (%q, %v, %v), want PM95", grid, found, err)
	}

	// A fresher source grid overwrites the stored one.
	c.Remember("JA1ABC", "PM96")
	if grid, _, _ := c.store.Get("JA1ABC"); grid != "PM96" {
		t.Errorf("stored grid = %q, want overwritten PM96", grid)
	}

	// Empty arguments and a nil store are no-ops.
	c.Remember("", "PM95")
	c.Remember("W1AW", "")
	if _, found, _ := c.store.Get("W1AW"); found {
		t.Error("empty grid was stored")
	}
	nilStore := NewClient("user", "pass", nil)
	nilStore.Remember("W1AW", "FN31")
}

func TestRateLimitSpacing(t *testing.T) {
	var slept time.Duration
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") != "" {
			fmt.Fprint(w, sessionXML)
			return
		}
		fmt.Fprint(w, lookupXML(r.URL.Query().Get("callsign"), "AA00"))
	}, false)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.sleep = func(d time.Duration) { slept += d }

	c.Lookup("JA1ABC")
	// Login and lookup land on the same injected clock instant, so the
	// second request must wait out the full interval.
	if slept != c.minInterval {
		t.Errorf("slept %v, want %v", slept, c.minInterval)
	}
}

func TestShouldLookup(t *testing.T) {
	tests := []struct {
		name        string
		s           spot.Spot
		skimmerOnly bool
		want        bool
	}{
		{"plain spot open mode", spot.Spot{DXCall: "JA1ABC", Spotter: "W3LPL"}, false, true},
		{"has grid", spot.Spot{DXCall: "JA1ABC", Grid: "PM95"}, false, false},
		{"sota source", spot.Spot{DXCall: "W7ABC", Source: spot.SourceSOTA}, false, false},
		{"skimmer only, human spotter", spot.Spot{DXCall: "JA1ABC", Spotter: "W3LPL"}, true, false},
		{"skimmer only, skimmer spotter", spot.Spot{DXCall: "JA1ABC", Spotter: "W3LPL-#"}, true, true},
		{"skimmer only, pota activity", spot.Spot{DXCall: "K5XYZ", Spotter: "N1ABC", Activity: "POTA"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldLookup(&tt.s, tt.skimmerOnly); got != tt.want {
				t.Errorf("ShouldLookup = %v, want %v", got, tt.want)
			}
		})
	}
}
