package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/nidhogg/parley/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a document id does not resolve.
var ErrNotFound = errors.New("document not found")

// Query scopes a Search call: an equality term filter (dotted paths allowed
// for nested fields), a sort field, and pagination bounds. Size and From are
// caller-supplied with no enforced upper limit.
type Query struct {
	Term      map[string]any
	SortField string
	SortAsc   bool
	From      int
	Size      int
}

// Hit is a single search result: the document id plus its source.
type Hit struct {
	ID     string
	Source document.Document
}

// DocumentStore is the document index the repositories run on.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (document.Document, error)
	Index(ctx context.Context, collection, id string, doc document.Document) error
	Replace(ctx context.Context, collection, id string, doc document.Document) error
	Delete(ctx context.Context, collection, id string) error
	Search(ctx context.Context, collection string, q Query) ([]Hit, error)
	Sum(ctx context.Context, collection string, term map[string]any, field string) (int64, error)
	EnsureCollections(ctx context.Context, names ...string) error
	DropMatching(ctx context.Context, prefix string) error
}

// Mongo implements DocumentStore on a MongoDB database.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

var _ DocumentStore = (*Mongo)(nil)

// New connects to MongoDB and verifies the connection. Embedded documents
// decode as map[string]any so merge results round-trip unchanged.
func New(ctx context.Context, uri, database string, logger *zap.Logger) (*Mongo, error) {
	reg := bson.NewRegistry()
	reg.RegisterTypeMapEntry(bson.TypeEmbeddedDocument, reflect.TypeOf(bson.M{}))

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRegistry(reg))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	logger.Info("MongoDB connected", zap.String("database", database))
	return &Mongo{client: client, db: client.Database(database), logger: logger}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Get fetches a document by id.
func (m *Mongo) Get(ctx context.Context, collection, id string) (document.Document, error) {
	var raw bson.M
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	delete(raw, "_id")
	return document.Document(raw), nil
}

// Index writes a new document under the given id.
func (m *Mongo) Index(ctx context.Context, collection, id string, doc document.Document) error {
	body := make(bson.M, len(doc)+1)
	for k, v := range doc {
		body[k] = v
	}
	body["_id"] = id
	if _, err := m.db.Collection(collection).InsertOne(ctx, body); err != nil {
		return fmt.Errorf("index %s/%s: %w", collection, id, err)
	}
	return nil
}

// Replace overwrites an existing document wholesale. The stored document
// always matches what the caller computed; no field-level patching.
func (m *Mongo) Replace(ctx context.Context, collection, id string, doc document.Document) error {
	body := make(bson.M, len(doc))
	for k, v := range doc {
		body[k] = v
	}
	delete(body, "_id")
	res, err := m.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, body)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a document by id.
func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	res, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Search runs a term-filtered, sorted, paginated query.
func (m *Mongo) Search(ctx context.Context, collection string, q Query) ([]Hit, error) {
	filter := bson.M{}
	for k, v := range document.Flatten(q.Term) {
		filter[k] = v
	}

	order := -1
	if q.SortAsc {
		order = 1
	}
	opts := options.Find().
		SetSkip(int64(q.From)).
		SetLimit(int64(q.Size))
	if q.SortField != "" {
		opts = opts.SetSort(bson.D{{Key: q.SortField, Value: order}})
	}

	cursor, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var hits []Hit
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode hit in %s: %w", collection, err)
		}
		id, _ := raw["_id"].(string)
		delete(raw, "_id")
		hits = append(hits, Hit{ID: id, Source: document.Document(raw)})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	return hits, nil
}

// Sum aggregates a numeric field across all documents matching the term
// filter. Zero matches sum to 0.
func (m *Mongo) Sum(ctx context.Context, collection string, term map[string]any, field string) (int64, error) {
	match := bson.M{}
	for k, v := range document.Flatten(term) {
		match[k] = v
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$" + field}}}},
	}
	cursor, err := m.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("sum %s.%s: %w", collection, field, err)
	}
	defer cursor.Close(ctx)

	var out struct {
		Total int64 `bson:"total"`
	}
	if !cursor.Next(ctx) {
		return 0, cursor.Err()
	}
	if err := cursor.Decode(&out); err != nil {
		return 0, fmt.Errorf("decode sum %s.%s: %w", collection, field, err)
	}
	return out.Total, nil
}

// EnsureCollections creates collections idempotently; an already-existing
// collection is not an error.
func (m *Mongo) EnsureCollections(ctx context.Context, names ...string) error {
	for _, name := range names {
		err := m.db.CreateCollection(ctx, name)
		if err == nil {
			continue
		}
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
			continue
		}
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// DropMatching drops every collection whose name starts with the given
// prefix. No matches is not an error.
func (m *Mongo) DropMatching(ctx context.Context, prefix string) error {
	names, err := m.db.ListCollectionNames(ctx, bson.M{
		"name": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)},
	})
	if err != nil {
		return fmt.Errorf("list collections %s*: %w", prefix, err)
	}
	for _, name := range names {
		if err := m.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("drop collection %s: %w", name, err)
		}
		m.logger.Info("dropped collection", zap.String("name", name))
	}
	return nil
}
