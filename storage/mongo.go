package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// mongoDocument is the stored shape: the path is the _id and every field
// keeps its JSON encoding.
type mongoDocument struct {
	ID     string            `bson:"_id"`
	Fields map[string]string `bson:"fields"`
}

// MongoBackend stores documents in a single MongoDB collection.
type MongoBackend struct {
	client *mongo.Client
	coll   mongoCollection
}

// NewMongoBackend connects to uri and uses database.collection.
func NewMongoBackend(ctx context.Context, uri, database, collection string) (*MongoBackend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoBackend{client: client, coll: client.Database(database).Collection(collection)}, nil
}

// Close disconnects the client.
func (m *MongoBackend) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func (m *MongoBackend) Get(ctx context.Context, path Path) (Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	var stored mongoDocument
	err := m.coll.FindOne(ctx, bson.M{"_id": path.String()}).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	doc := make(Document, len(stored.Fields))
	for name, raw := range stored.Fields {
		doc[name] = []byte(raw)
	}
	return doc, nil
}

func (m *MongoBackend) Set(ctx context.Context, path Path, doc Document, opts SetOptions) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if err := checkFieldNames(doc); err != nil {
		return err
	}
	filter := bson.M{"_id": path.String()}
	var err error
	if opts.Merge {
		_, err = m.coll.UpdateOne(ctx, filter, mergeUpdate(doc), options.Update().SetUpsert(true))
	} else {
		_, err = m.coll.ReplaceOne(ctx, filter, toMongoDocument(path, doc), options.Replace().SetUpsert(true))
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (m *MongoBackend) Update(ctx context.Context, path Path, fields Document) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if err := checkFieldNames(fields); err != nil {
		return err
	}
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": path.String()}, mergeUpdate(fields))
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoBackend) Delete(ctx context.Context, path Path) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": path.String()}); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func toMongoDocument(path Path, doc Document) mongoDocument {
	out := mongoDocument{ID: path.String(), Fields: make(map[string]string, len(doc))}
	for name, raw := range doc {
		out.Fields[name] = string(raw)
	}
	return out
}

// mergeUpdate sets only the given fields. An empty document still creates
// the record on upsert.
func mergeUpdate(doc Document) bson.M {
	if len(doc) == 0 {
		return bson.M{"$setOnInsert": bson.M{"fields": bson.M{}}}
	}
	set := bson.M{}
	for name, raw := range doc {
		set["fields."+name] = string(raw)
	}
	return bson.M{"$set": set}
}

func checkFieldNames(doc Document) error {
	for name := range doc {
		if name == "" || strings.ContainsAny(name, ".$") {
			return fmt.Errorf("invalid field name %q", name)
		}
	}
	return nil
}
