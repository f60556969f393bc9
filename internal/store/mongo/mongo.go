// Package mongo persists records as MongoDB documents, one collection per
// record kind.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/store"
)

const connectTimeout = 10 * time.Second

// Writer inserts record batches into a database.
type Writer struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri and verifies the server is reachable.
func Open(ctx context.Context, uri, database string) (*Writer, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "connect mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "ping mongo")
	}
	return &Writer{client: client, db: client.Database(database)}, nil
}

// Write groups records by collection and inserts each group unordered, so
// one bad document does not drop the rest.
func (w *Writer) Write(ctx context.Context, records []store.Record) error {
	for coll, docs := range Documents(records) {
		opts := options.InsertMany().SetOrdered(false)
		if _, err := w.db.Collection(coll).InsertMany(ctx, docs, opts); err != nil {
			return apperrors.Wrapf(err, apperrors.CodePersistence, "insert into %s", coll)
		}
	}
	return nil
}

// Close disconnects the client.
func (w *Writer) Close(ctx context.Context) error {
	return w.client.Disconnect(ctx)
}

// Documents converts records to BSON documents keyed by collection.
func Documents(records []store.Record) map[string][]any {
	out := make(map[string][]any)
	for _, r := range records {
		doc := make(bson.M, len(r.Fields))
		for k, v := range r.Fields {
			doc[k] = v
		}
		out[r.Collection] = append(out[r.Collection], doc)
	}
	return out
}
