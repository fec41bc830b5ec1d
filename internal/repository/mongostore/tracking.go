// Package mongostore keeps one MongoDB document per tracking key with the
// opens embedded as an array.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the subset of *mongo.Collection the repository uses.
type Collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

type trackingDoc struct {
	Key       string    `bson:"key"`
	OpenCount int       `bson:"openCount,omitempty"`
	Opens     []openDoc `bson:"opens"`
}

type openDoc struct {
	ID          string     `bson:"id,omitempty"`
	Time        time.Time  `bson:"time"`
	UserAgent   string     `bson:"userAgent"`
	EmailClient string     `bson:"emailClient"`
	Section     *string    `bson:"section,omitempty"`
	ClientTs    *time.Time `bson:"clientTs,omitempty"`
	ClientTime  *time.Time `bson:"clientTime,omitempty"`
	IPAddress   string     `bson:"ip,omitempty"`
}

// TrackingRepo implements tracking.Repository against a MongoDB collection.
type TrackingRepo struct {
	coll Collection
}

// NewTrackingRepo creates a MongoDB-backed tracking repository.
func NewTrackingRepo(coll Collection) *TrackingRepo {
	return &TrackingRepo{coll: coll}
}

// EnsureIndexes creates the unique index on key. Without it two concurrent
// upserts for a new key can insert two documents.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("key_unique"),
	})
	if err != nil {
		return fmt.Errorf("create key index: %w", err)
	}
	return nil
}

func keyFilter(key string) bson.M {
	return bson.M{"key": key}
}

func pushUpdate(ev domain.OpenEvent) bson.M {
	return bson.M{"$push": bson.M{"opens": toOpenDoc(ev)}}
}

// AppendOpen pushes onto the opens array with upsert, creating the document
// on first use in the same operation.
func (r *TrackingRepo) AppendOpen(ctx context.Context, key string, ev domain.OpenEvent) error {
	_, err := r.coll.UpdateOne(ctx, keyFilter(key), pushUpdate(ev), options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("push open: %w", err)
	}
	return nil
}

func (r *TrackingRepo) Get(ctx context.Context, key string) (*domain.TrackingDocument, error) {
	var d trackingDoc
	err := r.coll.FindOne(ctx, keyFilter(key)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tracking document: %w", err)
	}
	return fromTrackingDoc(key, d), nil
}

func toOpenDoc(ev domain.OpenEvent) openDoc {
	return openDoc{
		ID:          ev.ID,
		Time:        ev.Time.UTC(),
		UserAgent:   ev.UserAgent,
		EmailClient: string(ev.EmailClient),
		Section:     ev.Section,
		ClientTs:    ev.ClientTs,
		ClientTime:  ev.ClientTime,
		IPAddress:   ev.IPAddress,
	}
}

func fromTrackingDoc(key string, d trackingDoc) *domain.TrackingDocument {
	doc := &domain.TrackingDocument{
		Key:       key,
		OpenCount: d.OpenCount,
		Opens:     make([]domain.OpenEvent, 0, len(d.Opens)),
	}
	for _, o := range d.Opens {
		doc.Opens = append(doc.Opens, domain.OpenEvent{
			ID:          o.ID,
			Time:        o.Time.UTC(),
			UserAgent:   o.UserAgent,
			EmailClient: domain.ClientKind(o.EmailClient),
			Section:     o.Section,
			ClientTs:    utcPtr(o.ClientTs),
			ClientTime:  utcPtr(o.ClientTime),
			IPAddress:   o.IPAddress,
		})
	}
	return doc
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
