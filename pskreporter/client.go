// Package pskreporter implements a client for the PSKReporter MQTT service.
//
// PSKReporter publishes real-time digital mode reception reports over MQTT.
// This client subscribes to a filtered topic, converts the compact JSON
// messages into spots, and feeds them into the bridge pipeline alongside the
// cluster feeds.
//
// MQTT Topic Structure:
//
//	pskr/filter/v2/{band}/{mode}/# - Filtered by band and mode
//	Example: pskr/filter/v2/+/FT8/# for FT8 on every band
package pskreporter

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gtbridge/spot"
)

// Client maintains a persistent MQTT connection to the PSKReporter broker.
// Reconnects are handled by the MQTT library with a capped interval.
type Client struct {
	broker   string
	port     int
	topic    string
	client   mqtt.Client
	spotChan chan *spot.Spot
	shutdown chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// Message is one PSKReporter report. Field names are abbreviated on the
// wire to keep messages small.
type Message struct {
	SequenceNumber  uint64 `json:"sq"` // sequence number
	Frequency       int64  `json:"f"`  // Hz
	Mode            string `json:"md"` // FT8, FT4, WSPR...
	Report          int    `json:"rp"` // SNR in dB
	Timestamp       int64  `json:"t"`  // Unix seconds
	SenderCall      string `json:"sc"` // the station transmitting (DX)
	SenderLocator   string `json:"sl"`
	ReceiverCall    string `json:"rc"` // the station reporting (spotter)
	ReceiverLocator string `json:"rl"`
	Band            string `json:"b"`
}

// NewClient creates a PSKReporter MQTT client.
func NewClient(broker string, port int, topic string) *Client {
	return &Client{
		broker:   broker,
		port:     port,
		topic:    topic,
		spotChan: make(chan *spot.Spot, 1000),
		shutdown: make(chan struct{}),
		now:      time.Now,
	}
}

// Connect establishes the connection to the PSKReporter MQTT broker.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.broker, c.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("gtbridge-%d", time.Now().Unix()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)

	log.Printf("PSKReporter: connecting to %s...", brokerURL)
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to PSKReporter: %w", token.Error())
	}
	return nil
}

// onConnect runs on every (re)connect; subscriptions do not survive a
// reconnect, so the subscribe lives here.
func (c *Client) onConnect(client mqtt.Client) {
	log.Printf("PSKReporter: connected, subscribing to %s", c.topic)
	token := client.Subscribe(c.topic, 0, c.messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Printf("PSKReporter: failed to subscribe: %v", token.Error())
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("PSKReporter: connection lost: %v, reconnecting...", err)
}

func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var report Message
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		log.Printf("PSKReporter: failed to parse message: %v", err)
		return
	}

	s := c.convertToSpot(&report)
	if s == nil {
		return
	}

	select {
	case c.spotChan <- s:
	default:
		log.Println("PSKReporter: spot channel full, dropping spot")
	}
}

// convertToSpot maps a reception report to a spot. The sender is the DX
// station, the receiver is the spotter.
func (c *Client) convertToSpot(msg *Message) *spot.Spot {
	if msg.SenderCall == "" || msg.ReceiverCall == "" || msg.Frequency == 0 {
		return nil
	}

	freqKHz := float64(msg.Frequency) / 1000.0
	band := spot.FreqToBand(freqKHz)
	if band == "" {
		return nil
	}

	timeUTC := c.now().UTC().Format("1504")
	if msg.Timestamp > 0 {
		timeUTC = time.Unix(msg.Timestamp, 0).UTC().Format("1504")
	}

	return &spot.Spot{
		DXCall:    spot.NormalizeCallsign(msg.SenderCall),
		Spotter:   spot.NormalizeCallsign(msg.ReceiverCall),
		Frequency: freqKHz,
		Band:      band,
		Mode:      msg.Mode,
		Report:    msg.Report,
		HasReport: true,
		Grid:      msg.SenderLocator,
		Comment:   msg.Mode + " " + strconv.Itoa(msg.Report) + " dB",
		TimeUTC:   timeUTC,
		Source:    spot.SourcePSKReporter,
	}
}

// GetSpotChannel returns the channel for receiving spots.
func (c *Client) GetSpotChannel() <-chan *spot.Spot {
	return c.spotChan
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Stop closes the PSKReporter connection.
func (c *Client) Stop() {
	log.Println("Stopping PSKReporter client...")
	if c.client != nil && c.client.IsConnected() {
		c.client.Unsubscribe(c.topic)
		c.client.Disconnect(250)
	}
	c.stopOnce.Do(func() { close(c.shutdown) })
}
