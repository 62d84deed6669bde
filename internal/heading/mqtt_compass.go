package heading

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttTokenTimeout = 2 * time.Second

// headingPayload is the JSON schema accepted on the platform compass topic.
type headingPayload struct {
	Heading *float64 `json:"heading"`
}

// MQTTCompass is a NativeCompass fed by headings published on an MQTT topic,
// for example by a phone or a separate compass module.
type MQTTCompass struct {
	client mqtt.Client
	topic  string

	mu       sync.Mutex
	cb       func(float64)
	interval time.Duration
	last     time.Time
}

// NewMQTTCompass creates a compass reading headings from topic.
func NewMQTTCompass(client mqtt.Client, topic string) *MQTTCompass {
	return &MQTTCompass{client: client, topic: topic}
}

// Available reports whether the broker connection is up.
func (c *MQTTCompass) Available() bool {
	return c.client != nil && c.topic != "" && c.client.IsConnectionOpen()
}

// Start subscribes to the heading topic. Messages arriving faster than
// intervalMs are dropped.
func (c *MQTTCompass) Start(intervalMs int, cb func(float64)) error {
	c.mu.Lock()
	c.cb = cb
	c.interval = time.Duration(intervalMs) * time.Millisecond
	c.last = time.Time{}
	c.mu.Unlock()

	token := c.client.Subscribe(c.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		c.deliver(msg.Payload(), time.Now())
	})
	if !token.WaitTimeout(mqttTokenTimeout) {
		return fmt.Errorf("subscribe %s: timed out", c.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	log.Printf("mqtt compass: subscribed to %s", c.topic)
	return nil
}

func (c *MQTTCompass) deliver(payload []byte, now time.Time) {
	deg, err := ParseHeadingPayload(payload)
	if err != nil {
		log.Printf("mqtt compass: %v", err)
		return
	}

	c.mu.Lock()
	cb := c.cb
	if cb == nil || (!c.last.IsZero() && now.Sub(c.last) < c.interval) {
		c.mu.Unlock()
		return
	}
	c.last = now
	c.mu.Unlock()

	cb(deg)
}

// Stop unsubscribes from the heading topic.
func (c *MQTTCompass) Stop() error {
	c.mu.Lock()
	c.cb = nil
	c.mu.Unlock()

	token := c.client.Unsubscribe(c.topic)
	if !token.WaitTimeout(mqttTokenTimeout) {
		return fmt.Errorf("unsubscribe %s: timed out", c.topic)
	}
	return token.Error()
}

// ParseHeadingPayload accepts either {"heading": <deg>} or a bare number.
func ParseHeadingPayload(payload []byte) (float64, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var p headingPayload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return 0, fmt.Errorf("heading payload: %w", err)
		}
		if p.Heading == nil {
			return 0, fmt.Errorf("heading payload: missing \"heading\"")
		}
		return *p.Heading, nil
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("heading payload %q: %w", text, err)
	}
	return v, nil
}
