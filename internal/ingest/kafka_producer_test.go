package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestPublishKeysByEntity(t *testing.T) {
	loc, ev := &captureWriter{}, &captureWriter{}
	k := &KafkaProducer{locations: loc, events: ev}
	ctx := context.Background()

	if err := k.PublishLocation(ctx, models.LocationUpdate{DriverID: "d1", Loc: models.Coord{Lat: 6.5, Lon: 3.3}}); err != nil {
		t.Fatal(err)
	}
	if err := k.PublishTripEvent(ctx, models.TripEvent{Type: "trip.completed", TripID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if len(loc.msgs) != 1 || string(loc.msgs[0].Key) != "d1" {
		t.Fatalf("location messages %+v", loc.msgs)
	}
	var got models.TripEvent
	if err := json.Unmarshal(ev.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if string(ev.msgs[0].Key) != "t1" || got.Type != "trip.completed" {
		t.Fatalf("event %+v", got)
	}

	if err := k.Close(); err != nil || !loc.closed || !ev.closed {
		t.Fatal("writers not closed")
	}
}
