package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// ErrNotFound is returned when no document matches the requested id.
var ErrNotFound = errors.New("document not found")

// Storage provides access to the MongoDB database holding all collections.
type Storage struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and verifies the connection.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Storage{client: client, db: client.Database(database)}, nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Collection returns the driver handle for the given kind.
func (s *Storage) Collection(kind domain.Kind) *mongo.Collection {
	return s.db.Collection(kind.Collection)
}

// Database returns the underlying database handle.
func (s *Storage) Database() *mongo.Database {
	return s.db
}

// List returns every document of the collection, newest first.
func (s *Storage) List(ctx context.Context, kind domain.Kind) ([]domain.Entity, error) {
	cur, err := s.Collection(kind).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind.Name, err)
	}
	defer cur.Close(ctx)
	out := []domain.Entity{}
	for cur.Next(ctx) {
		ent := kind.New()
		if err := cur.Decode(ent); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind.Name, err)
		}
		out = append(out, ent)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind.Name, err)
	}
	return out, nil
}

// Get returns the document with the given id.
func (s *Storage) Get(ctx context.Context, kind domain.Kind, id domain.ID) (domain.Entity, error) {
	ent := kind.New()
	err := s.Collection(kind).FindOne(ctx, idFilter(id)).Decode(ent)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind.Name, id, err)
	}
	return ent, nil
}

// Create inserts ent. The database assigns an ObjectID when ent carries no id.
func (s *Storage) Create(ctx context.Context, kind domain.Kind, ent domain.Entity) (domain.Entity, error) {
	res, err := s.Collection(kind).InsertOne(ctx, ent)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", kind.Name, err)
	}
	ent.SetEntityID(domain.NormalizeID(res.InsertedID))
	return ent, nil
}

// Update overwrites the declared fields of the document with the given id.
// A $set is used instead of a replacement so the change stream reports an
// update rather than a replace.
func (s *Storage) Update(ctx context.Context, kind domain.Kind, id domain.ID, ent domain.Entity) (domain.Entity, error) {
	ent.SetEntityID("")
	out := kind.New()
	err := s.Collection(kind).FindOneAndUpdate(ctx, idFilter(id), bson.M{"$set": ent},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", kind.Name, id, err)
	}
	return out, nil
}

// Delete removes the document with the given id.
func (s *Storage) Delete(ctx context.Context, kind domain.Kind, id domain.ID) error {
	res, err := s.Collection(kind).DeleteOne(ctx, idFilter(id))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", kind.Name, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// idFilter matches the document addressed by id. Hex ids of ObjectID length
// match both an ObjectID and a plain string _id, since either decodes to the
// same public id.
func idFilter(id domain.ID) bson.M {
	if oid, ok := id.DatabaseValue().(primitive.ObjectID); ok {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, string(id)}}}
	}
	return bson.M{"_id": string(id)}
}
