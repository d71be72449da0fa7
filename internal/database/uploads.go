package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDuplicateUpload is returned when an upload record collides with an
// existing s3_key.
var ErrDuplicateUpload = errors.New("this file has already been uploaded")

// InsertCSVUploadRecord records a raw CSV landed in the upload bucket.
func (c *Client) InsertCSVUploadRecord(ctx context.Context, record *CSVUploadRecord) error {
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	_, err := c.csvUploads().InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateUpload
	}
	if err != nil {
		return fmt.Errorf("failed to insert CSV upload record: %w", err)
	}
	return nil
}

// ListCSVUploads returns a client's upload history, newest first.
func (c *Client) ListCSVUploads(ctx context.Context, clientName string) ([]*CSVUploadRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := c.csvUploads().Find(ctx, bson.M{"client_name": clientName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list CSV uploads: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*CSVUploadRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode CSV uploads: %w", err)
	}
	return records, nil
}
