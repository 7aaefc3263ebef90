package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

const publishTimeout = 2 * time.Second

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes driver locations and trip events, each keyed by the
// entity id so a partition sees one driver's or trip's messages in order.
type KafkaProducer struct {
	locations messageWriter
	events    messageWriter
}

func NewKafkaProducer(brokers []string, locationTopic, eventTopic string) *KafkaProducer {
	newWriter := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	}
	return &KafkaProducer{locations: newWriter(locationTopic), events: newWriter(eventTopic)}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, u models.LocationUpdate) error {
	return publish(ctx, k.locations, u.DriverID, u)
}

func (k *KafkaProducer) PublishTripEvent(ctx context.Context, ev models.TripEvent) error {
	return publish(ctx, k.events, ev.TripID, ev)
}

func publish(ctx context.Context, w messageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	var errs []error
	for _, w := range []messageWriter{k.locations, k.events} {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	return errors.Join(errs...)
}
