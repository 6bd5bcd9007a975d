package wsjtx

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"gtbridge/cache"
	"gtbridge/spot"
)

func testUDPListener(t *testing.T) (*net.UDPConn, string) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().String()
}

func readDatagram(t *testing.T, conn *net.UDPConn, wait time.Duration) ([]byte, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, false
		}
		t.Fatal(err)
	}
	return buf[:n], true
}

func TestHeartbeatsStopWhenInstanceExpires(t *testing.T) {
	listener, addr := testUDPListener(t)

	c := cache.New(time.Millisecond, nil, nil)
	e, err := NewEmitter(addr, "K1ABC", "FN42", time.Hour, time.Hour, c, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	c.Upsert(&spot.Spot{
		DXCall: "JA1ABC", Frequency: 14074.0, Band: "20m", Mode: "FT8",
		Source: spot.SourceCluster,
	})
	e.emitHeartbeats()
	data, got := readDatagram(t, listener, 2*time.Second)
	if !got {
		t.Fatal("no heartbeat for a live instance")
	}
	if typ := binary.BigEndian.Uint32(data[8:12]); typ != typeHeartbeat {
		t.Fatalf("message type = %d, want heartbeat", typ)
	}

	time.Sleep(10 * time.Millisecond)
	c.Sweep()
	e.emitHeartbeats()
	if data, got := readDatagram(t, listener, 200*time.Millisecond); got {
		t.Fatalf("expired instance still announced: % x", data)
	}
}

func TestDecodeSNRPlaceholder(t *testing.T) {
	e := &Emitter{now: time.Now}
	inst := cache.Instance{Band: "20m", Mode: "FT8"}
	id := InstanceID(inst)
	// SNR sits after the header, the id string, the is-new flag and TimeMS.
	snrOff := 12 + 4 + len(id) + 1 + 4

	withReport := &spot.Spot{
		DXCall: "JA1ABC", Frequency: 14074.0, Band: "20m", Mode: "FT8",
		Report: -12, HasReport: true, Source: spot.SourceCluster,
	}
	data := e.decodeFor(inst, withReport, 14074000)
	if snr := int32(binary.BigEndian.Uint32(data[snrOff:])); snr != -12 {
		t.Errorf("SNR = %d, want -12", snr)
	}

	withReport.Report = 0
	withReport.HasReport = false
	data = e.decodeFor(inst, withReport, 14074000)
	if snr := int32(binary.BigEndian.Uint32(data[snrOff:])); snr != noReportSNR {
		t.Errorf("SNR = %d, want placeholder %d", snr, noReportSNR)
	}
}
