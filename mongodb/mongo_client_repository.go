package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/oidcstore/client"
)

// ErrClientExists is returned when creating a client whose id is taken.
var ErrClientExists = errors.New("client already exists")

// ClientRepository implements client.Store using MongoDB.
type ClientRepository struct {
	coll *mongo.Collection
}

var _ client.Store = (*ClientRepository)(nil)

// NewClientRepository creates a new ClientRepository instance.
func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{
		coll: db.Collection(ClientsCollection),
	}
}

// CreateClient implements client.Store.
func (s *ClientRepository) CreateClient(ctx context.Context, c *client.Client) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %q", ErrClientExists, c.ID)
		}
		return fmt.Errorf("failed to insert client: %w", err)
	}

	return nil
}

// GetClient implements client.Source.
func (s *ClientRepository) GetClient(ctx context.Context, clientID string) (*client.Client, error) {
	var cli client.Client

	err := s.coll.FindOne(ctx, bson.M{"_id": clientID}).Decode(&cli)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return &cli, nil
}
