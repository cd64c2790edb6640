package events

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"goa.design/clue/health"
)

const defaultEventsCollection = "concierge_events"

// MongoSink is a durable audit-trail sink for TurnReport/ToolInvoked/
// GoalTransitioned events, the optional durable record alongside the
// always-on structured log.
type MongoSink struct {
	client     *mongodriver.Client
	collection *mongodriver.Collection
	timeout    time.Duration
}

// NewMongoSink builds a MongoSink writing to database.collection.
func NewMongoSink(client *mongodriver.Client, database, collection string, timeout time.Duration) *MongoSink {
	if collection == "" {
		collection = defaultEventsCollection
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		timeout:    timeout,
	}
}

var _ health.Pinger = (*MongoSink)(nil)

// Name implements health.Pinger so the sink can be wired into the
// process-wide health checker alongside other dependencies.
func (s *MongoSink) Name() string { return "events-mongo" }

// Ping implements health.Pinger.
func (s *MongoSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

type eventDocument struct {
	Type      string         `bson:"type"`
	SessionID string         `bson:"session_id"`
	Timestamp time.Time      `bson:"timestamp"`
	Payload   map[string]any `bson:"payload"`
}

// Handle implements Subscriber, inserting evt as a new durable document.
// Audit events are append-only, so failures here are logged by the bus and
// never retried; losing an occasional audit row is preferable to blocking
// the event pipeline.
func (s *MongoSink) Handle(ctx context.Context, evt Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	doc := eventDocument{
		Type:      string(evt.Type),
		SessionID: evt.SessionID,
		Timestamp: evt.Timestamp.UTC(),
		Payload:   flattenPayload(evt.Payload),
	}
	_, err := s.collection.InsertOne(ctx, doc)
	return err
}

func flattenPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return bson.M{}
	}
	return payload
}
