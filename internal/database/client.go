package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	syncStateCollection      = "sync_states"
	pipelineStatusCollection = "pipeline_status"
	csvUploadCollection      = "csv_upload_records"
)

// Client wraps the MongoDB connection and exposes one method per store
// operation. Sync state and upload records live in the primary database;
// the pipeline status log lives in the analytics database.
type Client struct {
	client    *mongo.Client
	db        *mongo.Database
	analytics *mongo.Database
}

// NewClient connects to MongoDB and ensures the indexes the stores rely on.
func NewClient(ctx context.Context, uri, database, analyticsDatabase string) (*Client, error) {
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	c := &Client{
		client:    mongoClient,
		db:        mongoClient.Database(database),
		analytics: mongoClient.Database(analyticsDatabase),
	}

	if err := c.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	return c, nil
}

// ensureIndexes creates the indexes the store contracts depend on. The
// unique index on clientName is what makes the run-lock compare-and-swap
// race-free: a lost race surfaces as a duplicate-key error instead of a
// second document.
func (c *Client) ensureIndexes(ctx context.Context) error {
	_, err := c.syncStates().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "clientName", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("sync_states index: %w", err)
	}

	_, err = c.pipelineStatuses().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "clientName", Value: 1}, {Key: "runId", Value: 1}}},
		{Keys: bson.D{{Key: "clientName", Value: 1}, {Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("pipeline_status indexes: %w", err)
	}

	_, err = c.csvUploads().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "client_name", Value: 1}, {Key: "upload_date", Value: 1}}},
		{
			Keys:    bson.D{{Key: "s3_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("csv_upload_records indexes: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *Client) syncStates() *mongo.Collection {
	return c.db.Collection(syncStateCollection)
}

func (c *Client) pipelineStatuses() *mongo.Collection {
	return c.analytics.Collection(pipelineStatusCollection)
}

func (c *Client) csvUploads() *mongo.Collection {
	return c.db.Collection(csvUploadCollection)
}
