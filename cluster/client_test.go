package cluster

import (
	"fmt"
	"net"
	"testing"
	"time"

	"gtbridge/config"
)

func TestContainsLoginPrompt(t *testing.T) {
	tests := []struct {
		seen string
		want bool
	}{
		{"login: please enter your call: ", true},
		{"please enter your callsign", true},
		{"welcome to the ve7cc cluster\r\nlogin: ", true},
		{"enter station id", true},
		{"connected.\r\n", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := containsLoginPrompt(tt.seen); got != tt.want {
			t.Errorf("containsLoginPrompt(%q) = %v, want %v", tt.seen, got, tt.want)
		}
	}
}

func TestConnectRetriesAfterInitialFailure(t *testing.T) {
	// Reserve a port, then close it so the first dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient(config.ClusterConfig{
		Name: "test", Host: "127.0.0.1", Port: port, Callsign: "K1ABC",
	}, 2)
	c.backoff = 20 * time.Millisecond
	defer c.Stop()

	if err := c.Connect(); err == nil {
		t.Fatal("expected the first dial to fail")
	}

	// Bring the upstream back on the same port; the supervisor should
	// redial it without any further prodding.
	ln2, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Skipf("port %d not reusable: %v", port, err)
	}
	defer ln2.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln2.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprint(conn, "login: ")
		buf := make([]byte, 64)
		conn.Read(buf)
		close(accepted)
		<-c.shutdown
	}()

	select {
	case <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("client never redialed the upstream")
	}
}

func TestHandleLineForwardsSpots(t *testing.T) {
	c := NewClient(config.ClusterConfig{Name: "test"}, 2)

	c.handleLine("DX de W3LPL:     14074.0  JA1ABC       FT8 -12 dB             1234Z\r\n")
	select {
	case s := <-c.spotChan:
		if s.DXCall != "JA1ABC" || s.SourceNode != "test" {
			t.Errorf("spot = %+v", s)
		}
	default:
		t.Fatal("spot not forwarded")
	}

	for _, line := range []string{
		"",
		"\r\n",
		"K1ABC de W3LPL-2 >\r\n",
		"WWV de VE7CC <18>: SFI=140\r\n",
		"To ALL de N1ABC: good morning\r\n",
	} {
		c.handleLine(line)
		select {
		case s := <-c.spotChan:
			t.Errorf("non-spot line %q forwarded as %+v", line, s)
		default:
		}
	}
}

func TestHandleLineScrubsANSI(t *testing.T) {
	c := NewClient(config.ClusterConfig{Name: "test"}, 2)
	c.handleLine("\x1b[1;32mDX de K1TTT:     7025.0  OH2BH        up 1                   0912Z\x1b[0m\r\n")
	select {
	case s := <-c.spotChan:
		if s.DXCall != "OH2BH" || s.Mode != "CW" {
			t.Errorf("spot = %+v", s)
		}
	default:
		t.Fatal("colored spot line not forwarded")
	}
}
