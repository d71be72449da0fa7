package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NormalizeStatus lowercases a pipeline status string for comparison. The
// log stores free-form strings written by several pipeline components.
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// IsSuccessStatus reports whether a status string is the success terminal.
func IsSuccessStatus(status string) bool {
	return NormalizeStatus(status) == PipelineStatusSuccess
}

// IsFailedStatus reports whether a status string is the failed terminal.
// "failed" and "error" are synonyms.
func IsFailedStatus(status string) bool {
	normalized := NormalizeStatus(status)
	return normalized == PipelineStatusFailed || normalized == PipelineStatusError
}

// RecordPipelineStatus upserts the status entry for a run. Records are keyed
// by (clientName, runId) so repeated writes for the same run update in place
// and `latest` ordering follows updatedAt.
func (c *Client) RecordPipelineStatus(ctx context.Context, clientName, runID, csvID, status, message string, details map[string]interface{}) error {
	set := bson.M{
		"status":    status,
		"message":   message,
		"updatedAt": time.Now().UTC(),
	}
	if csvID != "" {
		set["csvId"] = csvID
	}
	if details != nil {
		set["details"] = details
	}

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"createdAt": time.Now().UTC(),
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := c.pipelineStatuses().UpdateOne(ctx, bson.M{"clientName": clientName, "runId": runID}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to record pipeline status: %w", err)
	}
	return nil
}

// LatestPipelineStatus returns the most recently updated status record for a
// client, matching the client name case-insensitively. Returns nil when the
// client has no history.
func (c *Client) LatestPipelineStatus(ctx context.Context, clientName string) (*PipelineStatusRecord, error) {
	return c.findLatestStatus(ctx, bson.M{"clientName": caseInsensitiveExact(clientName)})
}

// LatestPipelineStatusForRun returns the most recent status record for a
// specific run. Returns nil when the run has no record yet (the pipeline has
// not started processing), which callers must surface as "pending" rather
// than "not found".
func (c *Client) LatestPipelineStatusForRun(ctx context.Context, clientName, runID string) (*PipelineStatusRecord, error) {
	return c.findLatestStatus(ctx, bson.M{
		"clientName": caseInsensitiveExact(clientName),
		"runId":      caseInsensitiveExact(runID),
	})
}

// LatestPipelineStatusForCSV returns the most recent status record
// correlated to a CSV upload.
func (c *Client) LatestPipelineStatusForCSV(ctx context.Context, clientName, csvID string) (*PipelineStatusRecord, error) {
	return c.findLatestStatus(ctx, bson.M{
		"clientName": caseInsensitiveExact(clientName),
		"csvId":      caseInsensitiveExact(csvID),
	})
}

// MarkPipelineSucceeded flips a pending record to success. The filter pins
// the current status to pending, so the transition is monotonic: a record
// that already reached a terminal state is never rewritten.
func (c *Client) MarkPipelineSucceeded(ctx context.Context, clientName, runID, message string) (bool, error) {
	filter := bson.M{
		"clientName": clientName,
		"runId":      runID,
		"status":     caseInsensitiveExact(PipelineStatusPending),
	}
	update := bson.M{
		"$set": bson.M{
			"status":    PipelineStatusSuccess,
			"message":   message,
			"updatedAt": time.Now().UTC(),
		},
	}

	result, err := c.pipelineStatuses().UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to mark pipeline succeeded: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// ListClientsWithPendingStatus returns the distinct (clientName, runId)
// pairs whose latest record is still pending. Used by the reconciliation
// sweep.
func (c *Client) ListClientsWithPendingStatus(ctx context.Context) ([]PipelineStatusRecord, error) {
	filter := bson.M{"status": caseInsensitiveExact(PipelineStatusPending)}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	cursor, err := c.pipelineStatuses().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending pipeline statuses: %w", err)
	}
	defer cursor.Close(ctx)

	var records []PipelineStatusRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode pending pipeline statuses: %w", err)
	}
	return records, nil
}

func (c *Client) findLatestStatus(ctx context.Context, filter bson.M) (*PipelineStatusRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	var record PipelineStatusRecord
	err := c.pipelineStatuses().FindOne(ctx, filter, opts).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pipeline status: %w", err)
	}
	return &record, nil
}

// caseInsensitiveExact builds an anchored case-insensitive match for a
// value, escaping any regex metacharacters it contains.
func caseInsensitiveExact(value string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(value) + "$", Options: "i"}
}
