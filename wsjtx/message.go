// Package wsjtx encodes and decodes the WSJT-X UDP message protocol used by
// GridTracker and other loggers. Each (band, mode) pair is presented as a
// separate WSJT-X instance: a Heartbeat and Status describing the rig state,
// then one Decode per cached spot, formatted as a CQ so the map plots the
// spotted station. Replies (double clicks in GridTracker) come back on the
// same socket as type 4 messages.
package wsjtx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	magic     = 0xADBCCBDA
	schema    = 2
	maxSchema = 3

	// Reported WSJT-X version. GridTracker gates some features on this.
	versionString = "2.6.1"
)

// Message type codes on the wire.
const (
	typeHeartbeat = 0
	typeStatus    = 1
	typeDecode    = 2
	typeReply     = 4
	typeQSOLogged = 5
)

// ModeChar returns the single-character mode indicator used in Decode
// messages. Unknown modes report as FT8 so GridTracker still plots them.
func ModeChar(mode string) string {
	switch mode {
	case "FT8":
		return "~"
	case "FT4":
		return "+"
	case "JT65":
		return "#"
	case "JT9":
		return "@"
	case "MSK144":
		return "`"
	default:
		return "~"
	}
}

// bandDialHz maps a band name to the dial frequency reported in Status
// messages: the band's lower edge, so every spot offset stays non-negative.
var bandDialHz = map[string]uint64{
	"160m": 1800000,
	"80m":  3500000,
	"60m":  5330000,
	"40m":  7000000,
	"30m":  10100000,
	"20m":  14000000,
	"17m":  18068000,
	"15m":  21000000,
	"12m":  24890000,
	"10m":  28000000,
	"6m":   50000000,
	"2m":   144000000,
}

// BandDialHz returns the reported dial frequency for a band.
func BandDialHz(band string) (uint64, bool) {
	hz, ok := bandDialHz[band]
	return hz, ok
}

// MidnightMS returns milliseconds since UTC midnight for t, the time encoding
// Decode and Reply messages use.
func MidnightMS(t time.Time) uint32 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return uint32(t.Sub(midnight) / time.Millisecond)
}

type encoder struct {
	buf bytes.Buffer
}

func newEncoder(msgType uint32, id string) *encoder {
	e := &encoder{}
	e.u32(magic)
	e.u32(schema)
	e.u32(msgType)
	e.str(id)
	return e
}

func (e *encoder) u8(v uint8)   { e.buf.WriteByte(v) }
func (e *encoder) u32(v uint32) { binary.Write(&e.buf, binary.BigEndian, v) }
func (e *encoder) i32(v int32)  { binary.Write(&e.buf, binary.BigEndian, v) }
func (e *encoder) u64(v uint64) { binary.Write(&e.buf, binary.BigEndian, v) }
func (e *encoder) f64(v float64) {
	binary.Write(&e.buf, binary.BigEndian, v)
}

func (e *encoder) bool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// str writes a QByteArray style string: uint32 length then UTF-8 bytes.
func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

// EncodeHeartbeat builds a type 0 Heartbeat for the named instance.
func EncodeHeartbeat(id string) []byte {
	e := newEncoder(typeHeartbeat, id)
	e.u32(maxSchema)
	e.str(versionString)
	e.str("") // revision
	return e.bytes()
}

// Status describes the simulated rig state of one instance.
type Status struct {
	ID      string
	DialHz  uint64
	Mode    string
	DXCall  string
	DXGrid  string
	DECall  string
	DEGrid  string
	TRPerio uint32
}

// Encode builds the type 1 Status message.
func (s Status) Encode() []byte {
	trPeriod := s.TRPerio
	if trPeriod == 0 {
		trPeriod = 15
	}
	e := newEncoder(typeStatus, s.ID)
	e.u64(s.DialHz)
	e.str(s.Mode)
	e.str(s.DXCall)
	e.str("")     // report
	e.str(s.Mode) // tx mode
	e.bool(false) // tx enabled
	e.bool(false) // transmitting
	e.bool(true)  // decoding
	e.u32(1500)   // rx df
	e.u32(1500)   // tx df
	e.str(s.DECall)
	e.str(s.DEGrid)
	e.str(s.DXGrid)
	e.bool(false) // tx watchdog
	e.str("")     // sub mode
	e.bool(false) // fast mode
	e.u8(0)       // special operation
	e.u32(0)      // frequency tolerance
	e.u32(trPeriod)
	e.str("Default") // configuration name
	return e.bytes()
}

// Decode is one plotted station, delivered as a faked CQ decode.
type Decode struct {
	ID        string
	TimeMS    uint32
	SNR       int32
	DeltaTime float64
	DeltaFreq uint32
	Mode      string
	Message   string
}

// Encode builds the type 2 Decode message.
func (d Decode) Encode() []byte {
	e := newEncoder(typeDecode, d.ID)
	e.bool(true) // is new
	e.u32(d.TimeMS)
	e.i32(d.SNR)
	e.f64(d.DeltaTime)
	e.u32(d.DeltaFreq)
	e.str(d.Mode)
	e.str(d.Message)
	e.bool(false) // low confidence
	e.bool(false) // off air
	return e.bytes()
}

// QSOLogged mirrors the type 5 message WSJT-X emits after logging a contact.
// It is used to forward contest logger QSOs to GridTracker.
type QSOLogged struct {
	ID         string
	When       time.Time
	DXCall     string
	DXGrid     string
	TXFreqHz   uint64
	Mode       string
	ReportSent string
	ReportRecv string
	MyCall     string
	MyGrid     string
	Comments   string
	Operator   string
	ExchSent   string
	ExchRecv   string
}

// Encode builds the type 5 QSOLogged message.
func (q QSOLogged) Encode() []byte {
	e := newEncoder(typeQSOLogged, q.ID)
	e.qdatetime(q.When) // time off
	e.str(q.DXCall)
	e.str(q.DXGrid)
	e.u64(q.TXFreqHz)
	e.str(q.Mode)
	e.str(q.ReportSent)
	e.str(q.ReportRecv)
	e.str("") // tx power
	e.str(q.Comments)
	e.str("") // name
	e.qdatetime(q.When) // time on
	e.str(q.Operator)
	e.str(q.MyCall)
	e.str(q.MyGrid)
	e.str(q.ExchSent)
	e.str(q.ExchRecv)
	e.str("") // ADIF propagation mode
	return e.bytes()
}

// qdatetime writes a QDateTime: Julian day, ms since midnight, timespec byte.
func (e *encoder) qdatetime(t time.Time) {
	t = t.UTC()
	e.u64(julianDay(t))
	e.u32(MidnightMS(t))
	e.u8(1) // UTC
}

// julianDay computes the Julian day number for a UTC date.
func julianDay(t time.Time) uint64 {
	y, m, d := t.Year(), int(t.Month()), t.Day()
	a := (14 - m) / 12
	y = y + 4800 - a
	m = m + 12*a - 3
	jdn := d + (153*m+2)/5 + 365*y + y/4 - y/100 + y/400 - 32045
	return uint64(jdn)
}

// Reply is the decoded type 4 message GridTracker sends when the operator
// double clicks a plotted station.
type Reply struct {
	ID            string
	TimeMS        uint32
	SNR           int32
	DeltaTime     float64
	DeltaFreq     uint32
	Mode          string
	Message       string
	LowConfidence bool
	Modifiers     uint8
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) remaining() int { return len(d.data) - d.pos }

func (d *decoder) u8() (uint8, error) {
	if d.remaining() < 1 {
		return 0, fmt.Errorf("short message at offset %d", d.pos)
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("short message at offset %d", d.pos)
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, fmt.Errorf("short message at offset %d", d.pos)
	}
	v := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) f64() (float64, error) {
	bits, err := d.u64()
	return math.Float64frombits(bits), err
}

func (d *decoder) bool() (bool, error) {
	v, err := d.u8()
	return v != 0, err
}

// str reads a QByteArray string; 0xFFFFFFFF encodes a null string.
func (d *decoder) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	if n == 0xFFFFFFFF {
		return "", nil
	}
	if d.remaining() < int(n) {
		return "", fmt.Errorf("short string at offset %d", d.pos)
	}
	s := string(d.data[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

// ParseReply decodes a datagram and returns the Reply if the datagram is a
// well formed type 4 message. The ok result is false for any other message
// type; err is set only for malformed datagrams.
func ParseReply(data []byte) (Reply, bool, error) {
	var r Reply
	d := &decoder{data: data}

	m, err := d.u32()
	if err != nil {
		return r, false, err
	}
	if m != magic {
		return r, false, fmt.Errorf("bad magic 0x%08X", m)
	}
	if _, err := d.u32(); err != nil { // schema
		return r, false, err
	}
	msgType, err := d.u32()
	if err != nil {
		return r, false, err
	}
	if msgType != typeReply {
		return r, false, nil
	}

	if r.ID, err = d.str(); err != nil {
		return r, false, err
	}
	if r.TimeMS, err = d.u32(); err != nil {
		return r, false, err
	}
	snr, err := d.u32()
	if err != nil {
		return r, false, err
	}
	r.SNR = int32(snr)
	if r.DeltaTime, err = d.f64(); err != nil {
		return r, false, err
	}
	if r.DeltaFreq, err = d.u32(); err != nil {
		return r, false, err
	}
	if r.Mode, err = d.str(); err != nil {
		return r, false, err
	}
	if r.Message, err = d.str(); err != nil {
		return r, false, err
	}
	if r.LowConfidence, err = d.bool(); err != nil {
		return r, false, err
	}
	if r.Modifiers, err = d.u8(); err != nil {
		return r, false, err
	}
	return r, true, nil
}
