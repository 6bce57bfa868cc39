// Package firestoredb is the production Store backed by Firestore. One
// document per instance, keyed by the descriptor ID; Create relies on
// Firestore's create precondition so duplicate triggers racing across
// processes cannot both register the same key.
package firestoredb

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store"
)

const defaultCollection = "pipeline-instances"

// Store persists instances in a Firestore collection.
type Store struct {
	client     *firestore.Client
	collection string
}

// New creates a Firestore-backed store. An empty collection name selects
// the default.
func New(ctx context.Context, projectID, collection string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore store")
	}
	if collection == "" {
		collection = defaultCollection
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &Store{client: client, collection: collection}, nil
}

func (s *Store) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key)
}

func (s *Store) Create(ctx context.Context, inst *models.OrchestrationInstance) error {
	_, err := s.doc(inst.Key).Create(ctx, inst)
	if status.Code(err) == codes.AlreadyExists {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create instance %s: %w", inst.Key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*models.OrchestrationInstance, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", key, err)
	}
	var inst models.OrchestrationInstance
	if err := snap.DataTo(&inst); err != nil {
		return nil, fmt.Errorf("failed to decode instance %s: %w", key, err)
	}
	return &inst, nil
}

func (s *Store) Update(ctx context.Context, inst *models.OrchestrationInstance) error {
	if _, err := s.doc(inst.Key).Set(ctx, inst); err != nil {
		return fmt.Errorf("failed to update instance %s: %w", inst.Key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*models.OrchestrationInstance, error) {
	query := s.client.Collection(s.collection).OrderBy("updatedAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	it := query.Documents(ctx)
	defer it.Stop()

	var out []*models.OrchestrationInstance
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list instances: %w", err)
		}
		var inst models.OrchestrationInstance
		if err := snap.DataTo(&inst); err != nil {
			return nil, fmt.Errorf("failed to decode instance %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &inst)
	}
	return out, nil
}

func (s *Store) Close() error { return s.client.Close() }

var _ store.Store = (*Store)(nil)
