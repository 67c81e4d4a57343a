package selfhost

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bakaf/pixel/internal/platform"
)

// ConnectMongo connects to uri and verifies the primary is reachable.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb primary: %w", err)
	}
	return client, nil
}

// MongoDocumentStore keeps each collection in a MongoDB collection of the same
// name. User attributes live under the data field.
type MongoDocumentStore struct {
	db  *mongo.Database
	now func() time.Time
}

// NewMongoDocumentStore constructs a document store over database.
func NewMongoDocumentStore(database *mongo.Database) *MongoDocumentStore {
	return &MongoDocumentStore{db: database, now: time.Now}
}

type mongoDocument struct {
	ID         string    `bson:"_id"`
	DatabaseID string    `bson:"databaseId"`
	Data       bson.M    `bson:"data"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func (d mongoDocument) platform(collectionID string) platform.Document {
	data, _ := normalizeBSON(d.Data).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return platform.Document{
		ID:           d.ID,
		DatabaseID:   d.DatabaseID,
		CollectionID: collectionID,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
		Data:         data,
	}
}

// CreateDocument inserts data under documentID.
func (s *MongoDocumentStore) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (platform.Document, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	doc := mongoDocument{
		ID:         documentID,
		DatabaseID: databaseID,
		Data:       bson.M(data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if doc.Data == nil {
		doc.Data = bson.M{}
	}

	if _, err := s.db.Collection(collectionID).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return platform.Document{}, errDocumentExists
		}
		return platform.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc.platform(collectionID), nil
}

// ListDocuments translates queries into a find with sort and limit.
func (s *MongoDocumentStore) ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...platform.Query) (platform.DocumentList, error) {
	filter, opts, err := mongoQuery(databaseID, queries)
	if err != nil {
		return platform.DocumentList{}, err
	}

	coll := s.db.Collection(collectionID)
	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return platform.DocumentList{}, fmt.Errorf("count documents: %w", err)
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return platform.DocumentList{}, fmt.Errorf("find documents: %w", err)
	}
	var found []mongoDocument
	if err := cursor.All(ctx, &found); err != nil {
		return platform.DocumentList{}, fmt.Errorf("decode documents: %w", err)
	}

	list := platform.DocumentList{Total: int(total), Documents: make([]platform.Document, 0, len(found))}
	for _, d := range found {
		list.Documents = append(list.Documents, d.platform(collectionID))
	}
	return list, nil
}

// mongoQuery builds the filter and find options for queries.
func mongoQuery(databaseID string, queries []platform.Query) (bson.D, *options.FindOptions, error) {
	var clauses bson.A
	var sort bson.D
	opts := options.Find()

	for _, q := range queries {
		switch q.Method {
		case platform.MethodEqual:
			if len(q.Values) == 0 {
				return nil, nil, invalidQuery("Invalid query: equal on %s needs at least one value", q.Attribute)
			}
			field, err := mongoFilterField(q.Attribute)
			if err != nil {
				return nil, nil, err
			}
			clauses = append(clauses, bson.D{{Key: field, Value: bson.D{{Key: "$in", Value: bson.A(q.Values)}}}})

		case platform.MethodSearch:
			field, err := mongoFilterField(q.Attribute)
			if err != nil {
				return nil, nil, err
			}
			terms := strings.Fields(q.TextValue())
			if len(terms) == 0 {
				clauses = append(clauses, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{}}}}})
				continue
			}
			for _, term := range terms {
				clauses = append(clauses, bson.D{{Key: field, Value: primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}}})
			}

		case platform.MethodOrderAsc, platform.MethodOrderDesc:
			field, err := mongoSortField(q.Attribute)
			if err != nil {
				return nil, nil, err
			}
			direction := 1
			if q.Method == platform.MethodOrderDesc {
				direction = -1
			}
			sort = append(sort, bson.E{Key: field, Value: direction})

		case platform.MethodLimit:
			n, ok := q.LimitValue()
			if !ok || n < 0 {
				return nil, nil, invalidQuery("Invalid query: limit must be a non-negative integer")
			}
			opts.SetLimit(int64(n))

		default:
			return nil, nil, invalidQuery("Invalid query method: %s", q.Method)
		}
	}

	filter := bson.D{{Key: "databaseId", Value: databaseID}}
	if len(clauses) > 0 {
		filter = append(filter, bson.E{Key: "$and", Value: clauses})
	}
	if len(sort) == 0 {
		sort = bson.D{{Key: "createdAt", Value: 1}}
	}
	opts.SetSort(sort)
	return filter, opts, nil
}

func mongoFilterField(attribute string) (string, error) {
	switch {
	case attribute == "$id":
		return "_id", nil
	case attribute == "" || strings.HasPrefix(attribute, "$"):
		return "", invalidQuery("Invalid query: attribute %q cannot be filtered", attribute)
	default:
		return "data." + attribute, nil
	}
}

func mongoSortField(attribute string) (string, error) {
	switch attribute {
	case "$id":
		return "_id", nil
	case platform.AttrCreatedAt:
		return "createdAt", nil
	case "$updatedAt":
		return "updatedAt", nil
	}
	return mongoFilterField(attribute)
}

// normalizeBSON converts decoded BSON containers into plain maps and slices.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}

var _ platform.DocumentService = (*MongoDocumentStore)(nil)
