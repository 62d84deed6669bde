package app

import (
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/qibla_compass/internal/compass"
)

// mqttPublisher is the subset of mqtt.Client used to publish.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher mirrors a compass session onto MQTT topics.
type Publisher struct {
	client         mqttPublisher
	topicHeading   string
	topicAlignment string
	topicStatus    string
}

// NewPublisher creates a Publisher. Empty topics are skipped.
func NewPublisher(client mqttPublisher, topicHeading, topicAlignment, topicStatus string) *Publisher {
	return &Publisher{
		client:         client,
		topicHeading:   topicHeading,
		topicAlignment: topicAlignment,
		topicStatus:    topicStatus,
	}
}

// Attach subscribes the publisher to s and returns the unsubscribe function.
func (p *Publisher) Attach(s *compass.Session) func() {
	unsubUpdates := s.Subscribe(p.PublishUpdate)
	unsubStatus := s.SubscribeStatus(p.PublishStatus)
	return func() {
		unsubUpdates()
		unsubStatus()
	}
}

// PublishUpdate publishes the heading and, when a target is known, the alignment.
func (p *Publisher) PublishUpdate(u compass.Update) {
	p.publish(p.topicHeading, false, newHeadingMessage(u))
	if m, ok := newAlignmentMessage(u); ok {
		p.publish(p.topicAlignment, false, m)
	}
}

// PublishStatus publishes the status retained so late subscribers see it.
func (p *Publisher) PublishStatus(st compass.Status) {
	p.publish(p.topicStatus, true, newStatusMessage(st))
}

// publish never waits for the broker: it runs on the sensor goroutine.
func (p *Publisher) publish(topic string, retained bool, v interface{}) {
	if topic == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("publisher: %s JSON marshal error: %v", topic, err)
		return
	}

	token := p.client.Publish(topic, 0, retained, payload)
	select {
	case <-token.Done():
		if token.Error() != nil {
			log.Printf("publisher: %s publish error: %v", topic, token.Error())
		}
	default:
	}
}
