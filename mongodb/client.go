package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

// DB owns a MongoDB connection and the database the client documents live in.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a traced MongoDB connection and verifies it with a ping on
// the primary.
func Connect(ctx context.Context, uri, dbName string) (*DB, error) {
	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb primary: %w", err)
	}

	log.Ctx(ctx).Info().Str("database", dbName).Msg("MongoDB client initialized")

	return &DB{client: client, db: client.Database(dbName)}, nil
}

// Database returns the database handle.
func (d *DB) Database() *mongo.Database {
	return d.db
}

// Ping checks the connection with a short timeout.
func (d *DB) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.client.Ping(pingCtx, readpref.Primary())
}

// Close disconnects the client.
func (d *DB) Close(ctx context.Context) error {
	log.Ctx(ctx).Info().Msg("Closing MongoDB connection")
	return d.client.Disconnect(ctx)
}
