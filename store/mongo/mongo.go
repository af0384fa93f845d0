/*
Package mongo stores the record tree in MongoDB.

LAYOUT:
  <collection>/<doc>/<field...> maps to

    db.<collection>.{ _id: <doc>, data: <subtree> }

  so each user record is one Mongo document and can be inspected with the
  usual tools. Values cross the boundary as relaxed Extended JSON, which
  keeps integers integral and leaves strings alone.

WRITES:
  A write loads the documents the path covers, applies the tree semantics
  from record/tree.go and replaces them. As with every backend there is no
  compare-and-swap: two processes writing the same document resolve as
  last-write-wins.
*/
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/warp/points-engine/record"
)

// Store implements record.Store on one Mongo database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

var _ record.Store = (*Store)(nil)

// Connect dials uri, pings it and selects database.
func Connect(ctx context.Context, uri, database string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctxConnect, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctxConnect, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctxConnect, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	log.Info("connected to MongoDB", zap.String("database", database))
	return &Store{client: client, db: client.Database(database), log: log}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s.client != nil {
		return s.client.Disconnect(ctx)
	}
	return nil
}

// Get returns the subtree at path.
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := record.CheckPath(path); err != nil {
		return nil, &record.ReadError{Path: path, Status: 400, Err: err}
	}
	segs := record.Split(path)

	tree, _, err := s.loadScope(ctx, segs)
	if err != nil {
		return nil, &record.ReadError{Path: path, Err: err}
	}
	raw, err := record.Encode(tree.Get(segs))
	if err != nil {
		return nil, &record.ReadError{Path: path, Err: err}
	}
	return raw, nil
}

// Put replaces the subtree at path.
func (s *Store) Put(ctx context.Context, path string, value any) (json.RawMessage, error) {
	n, err := record.Normalize(value)
	if err != nil {
		return nil, &record.WriteError{Op: "put", Path: path, Status: 400, Err: err}
	}
	err = s.mutate(ctx, "put", path, func(tree *record.Tree, segs []string) error {
		tree.Set(segs, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	raw, _ := record.Encode(n)
	return raw, nil
}

// Patch merges fields into the subtree at path.
func (s *Store) Patch(ctx context.Context, path string, fields map[string]any) (json.RawMessage, error) {
	var applied map[string]any
	err := s.mutate(ctx, "patch", path, func(tree *record.Tree, segs []string) error {
		var err error
		applied, err = tree.Patch(segs, fields)
		return err
	})
	if err != nil {
		return nil, err
	}
	raw, _ := record.Encode(applied)
	return raw, nil
}

func (s *Store) mutate(ctx context.Context, op, path string, fn func(*record.Tree, []string) error) error {
	if err := record.CheckPath(path); err != nil {
		return &record.WriteError{Op: op, Path: path, Status: 400, Err: err}
	}
	segs := record.Split(path)

	tree, collections, err := s.loadScope(ctx, segs)
	if err != nil {
		return &record.WriteError{Op: op, Path: path, Err: err}
	}
	if err := fn(tree, segs); err != nil {
		return &record.WriteError{Op: op, Path: path, Status: 400, Err: err}
	}
	if err := s.saveScope(ctx, segs, tree, collections); err != nil {
		return &record.WriteError{Op: op, Path: path, Err: err}
	}
	return nil
}

// =============================================================================
// SCOPES
// =============================================================================

// loadScope reads every document the path can reach and returns the
// collections that were scanned.
func (s *Store) loadScope(ctx context.Context, segs []string) (*record.Tree, []string, error) {
	tree := record.NewTree()

	switch len(segs) {
	case 0:
		names, err := s.db.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return nil, nil, fmt.Errorf("list collections: %w", err)
		}
		for _, name := range names {
			if err := s.loadCollection(ctx, tree, name); err != nil {
				return nil, nil, err
			}
		}
		return tree, names, nil

	case 1:
		if err := s.loadCollection(ctx, tree, segs[0]); err != nil {
			return nil, nil, err
		}
		return tree, segs[:1], nil

	default:
		raw, err := s.db.Collection(segs[0]).FindOne(ctx, bson.D{{Key: "_id", Value: segs[1]}}).Raw()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return tree, segs[:1], nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("find %s/%s: %w", segs[0], segs[1], err)
		}
		id, body, err := fromDocument(raw)
		if err != nil {
			return nil, nil, err
		}
		tree.Set([]string{segs[0], id}, body)
		return tree, segs[:1], nil
	}
}

func (s *Store) loadCollection(ctx context.Context, tree *record.Tree, name string) error {
	cur, err := s.db.Collection(name).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("find %s: %w", name, err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		id, body, err := fromDocument(cur.Current)
		if err != nil {
			return err
		}
		tree.Set([]string{name, id}, body)
	}
	return cur.Err()
}

func (s *Store) saveScope(ctx context.Context, segs []string, tree *record.Tree, scanned []string) error {
	if len(segs) >= 2 {
		return s.saveDocument(ctx, segs[0], segs[1], tree.Get(segs[:2]))
	}

	// Root or collection scope: rewrite every scanned collection.
	targets := scanned
	if len(segs) == 0 {
		for name := range tree.Root() {
			targets = append(targets, name)
		}
	}
	seen := map[string]bool{}
	for _, name := range targets {
		if seen[name] {
			continue
		}
		seen[name] = true

		coll := s.db.Collection(name)
		if _, err := coll.DeleteMany(ctx, bson.D{}); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
		docs := tree.Get([]string{name})
		if docs == nil {
			continue
		}
		m, ok := docs.(map[string]any)
		if !ok {
			return fmt.Errorf("collection %q must hold an object", name)
		}
		for id, body := range m {
			if err := s.saveDocument(ctx, name, id, body); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) saveDocument(ctx context.Context, collection, id string, body any) error {
	coll := s.db.Collection(collection)
	filter := bson.D{{Key: "_id", Value: id}}
	if body == nil {
		_, err := coll.DeleteOne(ctx, filter)
		return err
	}
	doc, err := toDocument(id, body)
	if err != nil {
		return err
	}
	_, err = coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", collection, id, err)
	}
	return nil
}

// =============================================================================
// CONVERSION
// =============================================================================

// toDocument wraps a tree value as {_id, data} via relaxed Extended JSON.
func toDocument(id string, body any) (bson.D, error) {
	payload, err := json.Marshal(map[string]any{"_id": id, "data": body})
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(payload, false, &doc); err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	return doc, nil
}

// fromDocument unwraps {_id, data} into a tree value.
func fromDocument(raw bson.Raw) (string, any, error) {
	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return "", nil, fmt.Errorf("convert document: %w", err)
	}
	var wrapper struct {
		ID   string          `json:"_id"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(ext, &wrapper); err != nil {
		return "", nil, fmt.Errorf("decode document: %w", err)
	}
	body, err := record.Normalize(wrapper.Data)
	if err != nil {
		return "", nil, err
	}
	return wrapper.ID, body, nil
}
