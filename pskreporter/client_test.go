package pskreporter

import (
	"testing"
	"time"

	"gtbridge/spot"
)

func newTestClient() *Client {
	c := NewClient("localhost", 1883, "pskr/filter/v2/+/FT8/#")
	c.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func TestConvertToSpot(t *testing.T) {
	c := newTestClient()
	msg := &Message{
		SequenceNumber:  1,
		Frequency:       14074123,
		Mode:            "FT8",
		Report:          -7,
		Timestamp:       time.Date(2025, 6, 1, 11, 58, 30, 0, time.UTC).Unix(),
		SenderCall:      "ja1abc",
		SenderLocator:   "PM95",
		ReceiverCall:    "K1ABC",
		ReceiverLocator: "FN42",
		Band:            "20m",
	}

	s := c.convertToSpot(msg)
	if s == nil {
		t.Fatal("expected spot, got nil")
	}
	if s.DXCall != "JA1ABC" || s.Spotter != "K1ABC" {
		t.Errorf("calls = %s by %s", s.DXCall, s.Spotter)
	}
	if s.Frequency != 14074.123 || s.Band != "20m" {
		t.Errorf("freq/band = %v/%s", s.Frequency, s.Band)
	}
	if s.Report != -7 || !s.HasReport {
		t.Errorf("report = %d/%v", s.Report, s.HasReport)
	}
	if s.Grid != "PM95" {
		t.Errorf("grid = %q", s.Grid)
	}
	if s.TimeUTC != "1158" {
		t.Errorf("time = %q", s.TimeUTC)
	}
	if s.Source != spot.SourcePSKReporter {
		t.Errorf("source = %q", s.Source)
	}
}

func TestConvertToSpotRejectsIncomplete(t *testing.T) {
	c := newTestClient()
	tests := []struct {
		name string
		msg  Message
	}{
		{"no sender", Message{ReceiverCall: "K1ABC", Frequency: 14074000}},
		{"no receiver", Message{SenderCall: "JA1ABC", Frequency: 14074000}},
		{"no frequency", Message{SenderCall: "JA1ABC", ReceiverCall: "K1ABC"}},
		{"out of band", Message{SenderCall: "JA1ABC", ReceiverCall: "K1ABC", Frequency: 999999000000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s := c.convertToSpot(&tt.msg); s != nil {
				t.Errorf("accepted as %+v", s)
			}
		})
	}
}

type testMessage struct {
	payload []byte
}

func (m testMessage) Duplicate() bool   { return false }
func (m testMessage) Qos() byte         { return 0 }
func (m testMessage) Retained() bool    { return false }
func (m testMessage) Topic() string     { return "" }
func (m testMessage) MessageID() uint16 { return 0 }
func (m testMessage) Payload() []byte   { return m.payload }
func (m testMessage) Ack()              {}

func TestMessageHandler(t *testing.T) {
	c := newTestClient()

	c.messageHandler(nil, testMessage{payload: []byte(`{"f":7074000,"md":"FT8","rp":3,"sc":"OH2BH","rc":"K1ABC","sl":"KP20","rl":"FN42"}`)})
	select {
	case s := <-c.spotChan:
		if s.DXCall != "OH2BH" || s.Band != "40m" {
			t.Errorf("spot = %+v", s)
		}
	default:
		t.Fatal("spot not forwarded")
	}

	c.messageHandler(nil, testMessage{payload: []byte(`not json`)})
	select {
	case s := <-c.spotChan:
		t.Errorf("malformed payload produced %+v", s)
	default:
	}
}
