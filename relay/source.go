package relay

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeStream is the part of *mongo.ChangeStream the relay depends on.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
	ResumeToken() bson.Raw
}

// Source opens change streams on a single collection. resumeAfter is nil
// for a fresh stream.
type Source interface {
	Open(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error)

func (f SourceFunc) Open(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error) {
	return f(ctx, resumeAfter)
}

// CollectionSource watches coll, asking the server for the full post-image
// of updated documents.
func CollectionSource(coll *mongo.Collection) Source {
	return SourceFunc(func(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error) {
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if resumeAfter != nil {
			opts.SetResumeAfter(resumeAfter)
		}
		cs, err := coll.Watch(ctx, mongo.Pipeline{}, opts)
		if err != nil {
			return nil, err
		}
		return cs, nil
	})
}
