//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"

	"hustings/internal/platform/config"
	platformmongo "hustings/internal/platform/mongo"
)

// MongoContainer wraps a single-node replica set so transactions work.
type MongoContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *mongo.Client
}

// NewMongoContainer starts MongoDB as a one-member replica set.
func NewMongoContainer(t *testing.T) *MongoContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7", tcmongo.WithReplicaSet("rs0"))
	if err != nil {
		t.Fatalf("failed to start mongo container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get mongo connection string: %v", err)
	}

	client, _, err := platformmongo.Connect(ctx, config.MongoConfig{URL: url, Database: "hustings"})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect mongo: %v", err)
	}
	return &MongoContainer{Container: container, URL: url, Client: client}
}

// Database returns a database handle; tests use a fresh name per suite.
func (m *MongoContainer) Database(name string) *mongo.Database {
	return m.Client.Database(name)
}
