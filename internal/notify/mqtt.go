package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/micro-ha/follower-watch/internal/broker"
	"github.com/micro-ha/follower-watch/internal/model"
)

const publishTimeout = 5 * time.Second

// Publisher is the part of an MQTT client used for alert delivery.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes each alert as JSON to a per-device topic.
type MQTTNotifier struct {
	client Publisher
	topic  string
	logger *slog.Logger
}

func NewMQTTNotifier(client Publisher, topicPattern string, logger *slog.Logger) *MQTTNotifier {
	return &MQTTNotifier{client: client, topic: topicPattern, logger: logger}
}

func (n *MQTTNotifier) Notify(_ context.Context, alert model.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	topic := broker.FormatTopic(n.topic, alert.DeviceID)

	token := n.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish alert to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish alert to %s: %w", topic, err)
	}
	n.logger.Debug("alert published", "topic", topic, "alert_id", alert.ID)
	return nil
}
