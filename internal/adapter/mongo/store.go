// Package mongo persists readings and the feed consumer cursor in MongoDB and
// computes analytics with aggregation pipelines.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/couchcryptid/telemetry-quality-etl/internal/config"
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
)

// cursorID is the _id of the singleton consumer cursor document.
const cursorID = "consumer_state"

// Store implements pipeline.Repository, the poller cursor store and
// analytics.Source on top of two collections.
type Store struct {
	client   *mongo.Client
	readings *mongo.Collection
	cursors  *mongo.Collection
}

// readingDoc is the stored shape of a reading.
type readingDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	domain.Reading `bson:",inline"`
}

type cursorDoc struct {
	ID            string `bson:"_id"`
	domain.Cursor `bson:",inline"`
}

// Connect opens a client, verifies it with a ping and ensures indexes.
func Connect(ctx context.Context, cfg *config.Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	s := &Store{
		client:   client,
		readings: db.Collection(cfg.MongoCollection),
		cursors:  db.Collection(cfg.MongoCursorCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.readings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "recorded_at", Value: -1}}},
		{Keys: bson.D{{Key: "validation.is_valid", Value: 1}, {Key: "recorded_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create reading indexes: %w", err)
	}
	return nil
}

// Save inserts r and returns the hex ObjectID.
func (s *Store) Save(ctx context.Context, r *domain.Reading) (string, error) {
	res, err := s.readings.InsertOne(ctx, readingDoc{Reading: *r})
	if err != nil {
		return "", fmt.Errorf("insert reading: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// FindRecent returns up to limit readings ordered by recorded_at, newest first.
func (s *Store) FindRecent(ctx context.Context, limit int) ([]domain.Reading, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "recorded_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.readings.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find recent readings: %w", err)
	}
	var docs []readingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode recent readings: %w", err)
	}

	out := make([]domain.Reading, len(docs))
	for i, d := range docs {
		out[i] = d.Reading
		out[i].ID = d.ID.Hex()
	}
	return out, nil
}

// Count returns the number of stored readings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.readings.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

// GetCursor returns the last processed feed entry id, 0 if none was saved.
func (s *Store) GetCursor(ctx context.Context) (int64, error) {
	var doc cursorDoc
	err := s.cursors.FindOne(ctx, bson.D{{Key: "_id", Value: cursorID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read consumer cursor: %w", err)
	}
	return doc.LastEntryID, nil
}

// SaveCursor upserts the singleton cursor document.
func (s *Store) SaveCursor(ctx context.Context, lastEntryID int64) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "last_entry_id", Value: lastEntryID},
		{Key: "updated_at", Value: domain.Now()},
	}}}
	_, err := s.cursors.UpdateOne(ctx, bson.D{{Key: "_id", Value: cursorID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save consumer cursor: %w", err)
	}
	return nil
}

// CheckReadiness pings the primary.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// aggregate runs pipeline on the readings collection and decodes every result.
func (s *Store) aggregate(ctx context.Context, pipeline mongo.Pipeline, out any) error {
	cur, err := s.readings.Aggregate(ctx, pipeline)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

func validSince(since time.Time) bson.D {
	return bson.D{
		{Key: "validation.is_valid", Value: true},
		{Key: "recorded_at", Value: bson.D{{Key: "$gte", Value: since}}},
	}
}
