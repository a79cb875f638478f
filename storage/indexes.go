package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

var indexes = map[string][]mongo.IndexModel{
	domain.Articles: {
		{Keys: bson.D{{Key: "articleNumber", Value: 1}}},
		{Keys: bson.D{{Key: "barcode", Value: 1}}},
		{Keys: bson.D{{Key: "locationId", Value: 1}}},
	},
	domain.Machines: {
		{Keys: bson.D{{Key: "status", Value: 1}}},
	},
	domain.Orders: {
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "orderedAt", Value: -1}}},
		{Keys: bson.D{{Key: "wholesalerId", Value: 1}}},
	},
	domain.Users: {
		{
			Keys: bson.D{{Key: "subject", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"subject": bson.M{"$gt": ""}}),
		},
	},
}

// EnsureCollections creates missing collections and their secondary indexes.
func (s *Storage) EnsureCollections(ctx context.Context) error {
	existing, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}
	for _, kind := range domain.Kinds() {
		if !have[kind.Collection] {
			if err := s.db.CreateCollection(ctx, kind.Collection); err != nil {
				var cmdErr mongo.CommandError
				// 48: NamespaceExists, another instance won the race.
				if !(errors.As(err, &cmdErr) && cmdErr.Code == 48) {
					return fmt.Errorf("create collection %s: %w", kind.Collection, err)
				}
			}
		}
		models := indexes[kind.Name]
		if len(models) == 0 {
			continue
		}
		if _, err := s.Collection(kind).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", kind.Collection, err)
		}
	}
	return nil
}

// SeedSettings inserts the default settings document when none exists yet.
// It reports whether a document was created.
func (s *Storage) SeedSettings(ctx context.Context, defaults domain.AppSettings) (bool, error) {
	kind, err := domain.KindByName(domain.Settings)
	if err != nil {
		return false, err
	}
	n, err := s.Collection(kind).CountDocuments(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("count settings: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := defaults.Validate(); err != nil {
		return false, err
	}
	if _, err := s.Create(ctx, kind, &defaults); err != nil {
		return false, err
	}
	return true, nil
}
