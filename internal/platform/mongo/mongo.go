// Package mongo connects the document backend.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"hustings/internal/platform/config"
	"hustings/pkg/platform/sentinel"
)

// Collection names.
const (
	CollectionNominations = "nominations"
	CollectionBallots     = "votes"
	CollectionRoster      = "voters"
	CollectionSettings    = "votingOpenSettings"
)

// Connect dials MongoDB and verifies the primary is reachable.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetServerSelectionTimeout(5 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, client.Database(cfg.Database), nil
}

// IsTransient reports whether err is a network or timeout failure, or carries
// a server label marking it retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var le mongo.LabeledError
	if errors.As(err, &le) {
		return le.HasErrorLabel("TransientTransactionError") || le.HasErrorLabel("RetryableWriteError")
	}
	return false
}

// Classify marks transient failures with sentinel.ErrUnavailable.
func Classify(err error) error {
	if IsTransient(err) {
		return errors.Join(err, sentinel.ErrUnavailable)
	}
	return err
}
