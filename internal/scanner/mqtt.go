package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/micro-ha/follower-watch/internal/model"
)

const handleTimeout = 10 * time.Second

// Subscriber is the part of an MQTT client used to receive observations.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTSource ingests observations published by remote sensors. A payload is
// either one observation object or an array of them.
type MQTTSource struct {
	client Subscriber
	topic  string
	sink   Ingester
	logger *slog.Logger
	ctx    context.Context
}

func NewMQTTSource(client Subscriber, topic string, sink Ingester, logger *slog.Logger) *MQTTSource {
	return &MQTTSource{client: client, topic: topic, sink: sink, logger: logger, ctx: context.Background()}
}

// Run subscribes and blocks until ctx is done.
func (s *MQTTSource) Run(ctx context.Context) error {
	s.ctx = ctx
	token := s.client.Subscribe(s.topic, 1, s.handle)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, token.Error())
	}
	s.logger.Info("subscribed to observations", "topic", s.topic)

	<-ctx.Done()
	s.client.Unsubscribe(s.topic).WaitTimeout(2 * time.Second)
	return nil
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	observations, err := model.DecodeObservations(msg.Payload())
	if err != nil {
		s.logger.Warn("invalid observation payload", "topic", msg.Topic(), "err", err)
		return
	}
	if len(observations) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, handleTimeout)
	defer cancel()
	result, err := s.sink.Ingest(ctx, observations)
	if err != nil {
		s.logger.Warn("observations rejected", "topic", msg.Topic(), "count", len(observations), "err", err)
		return
	}
	s.logger.Debug("observations ingested", "topic", msg.Topic(), "accepted", result.Accepted, "alerts", len(result.Alerts))
}
