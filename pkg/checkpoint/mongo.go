package checkpoint

import (
	"context"
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is a MongoDB-backed checkpoint store for deployments where
// records should live next to analysis results. ReplaceOne with upsert on
// the _id gives atomic per-key semantics.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	URI        string // connection string (default "mongodb://localhost:27017")
	Database   string // database name (default "depvet")
	Collection string // collection name (default "checkpoints")
}

// mongoDoc wraps the JSON-encoded record so the wire encoding stays
// identical across backends. StageID is duplicated for the Scan index.
type mongoDoc struct {
	ID      string `bson:"_id"`
	StageID string `bson:"stage_id"`
	Data    []byte `bson:"data"`
}

// NewMongoStore creates a MongoDB-backed store and verifies connectivity.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "depvet"
	}
	if cfg.Collection == "" {
		cfg.Collection = "checkpoints"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, storageErr(err, "connect to mongodb at %s", cfg.URI)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, storageErr(err, "ping mongodb at %s", cfg.URI)
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Get retrieves a record by key. Absent records return (nil, nil).
func (s *MongoStore) Get(ctx context.Context, key Key) (*Record, error) {
	var doc mongoDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "get checkpoint %s", key)
	}
	var rec Record
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return nil, storageErr(err, "decode checkpoint %s", key)
	}
	return &rec, nil
}

// Put upserts a record.
func (s *MongoStore) Put(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return storageErr(err, "encode checkpoint %s", record.Key)
	}
	doc := mongoDoc{
		ID:      record.Key.String(),
		StageID: record.Key.StageID,
		Data:    data,
	}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return storageErr(err, "put checkpoint %s", record.Key)
	}
	return nil
}

// Scan returns an iterator over all records for a stage, backed by a
// MongoDB cursor.
func (s *MongoStore) Scan(ctx context.Context, stageID string) (Iterator, error) {
	cursor, err := s.coll.Find(ctx, bson.M{"stage_id": stageID})
	if err != nil {
		return nil, storageErr(err, "scan checkpoints for stage %s", stageID)
	}
	return &mongoIterator{cursor: cursor}, nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

type mongoIterator struct {
	cursor *mongo.Cursor
}

func (it *mongoIterator) Next(ctx context.Context) (*Record, error) {
	for it.cursor.Next(ctx) {
		var doc mongoDoc
		if err := it.cursor.Decode(&doc); err != nil {
			return nil, storageErr(err, "decode scanned checkpoint")
		}
		var rec Record
		if err := json.Unmarshal(doc.Data, &rec); err != nil {
			continue
		}
		return &rec, nil
	}
	if err := it.cursor.Err(); err != nil {
		return nil, storageErr(err, "scan checkpoints")
	}
	return nil, nil
}

func (it *mongoIterator) Close() error {
	return it.cursor.Close(context.Background())
}

// Ensure MongoStore implements Store.
var _ Store = (*MongoStore)(nil)
