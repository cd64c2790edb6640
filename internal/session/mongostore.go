package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"
)

const (
	defaultSessionsCollection = "concierge_sessions"
	defaultOpTimeout          = 5 * time.Second
	mongoClientName           = "session-mongo"
)

// MongoBackend is a durable Backend storing the full forward-compatible
// session document in MongoDB, with idempotent upserts and a unique index
// on the session identifier.
type MongoBackend struct {
	mongo      *mongodriver.Client
	collection *mongodriver.Collection
	timeout    time.Duration
}

// MongoOptions configures the Mongo-backed session store.
type MongoOptions struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// NewMongoBackend builds a MongoBackend, creating the required unique index
// on session_id.
func NewMongoBackend(ctx context.Context, opts MongoOptions) (*MongoBackend, error) {
	if opts.Client == nil {
		return nil, errors.New("session: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("session: mongo database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultSessionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)

	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(idxCtx, idx); err != nil {
		return nil, err
	}
	return &MongoBackend{mongo: opts.Client, collection: coll, timeout: timeout}, nil
}

// Name implements health.Pinger.
func (b *MongoBackend) Name() string { return mongoClientName }

// Ping implements health.Pinger so the backend can be wired into the
// process-wide health checker alongside other dependencies.
var _ health.Pinger = (*MongoBackend)(nil)

// Ping implements health.Pinger.
func (b *MongoBackend) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.mongo.Ping(ctx, readpref.Primary())
}

func (b *MongoBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.timeout)
}

// Load implements Backend by round-tripping the stored document through
// Session's forward-compatible JSON codec, so unknown fields persisted by a
// future version survive a read here too.
func (b *MongoBackend) Load(ctx context.Context, sid string) (*Session, bool, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	var raw bson.M
	err := b.collection.FindOne(ctx, bson.M{"session_id": sid}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, err
	}
	delete(raw, "_id")
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, false, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false, err
	}
	return &sess, true, nil
}

// Save implements Backend using an idempotent upsert keyed on session_id:
// every field of the document is written under $set in one atomic upsert,
// so readers never observe a partially written document.
func (b *MongoBackend) Save(ctx context.Context, sess *Session) error {
	data, err := sess.MarshalJSON()
	if err != nil {
		return err
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sess.ID}
	update := bson.M{"$set": doc}
	_, err = b.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}
