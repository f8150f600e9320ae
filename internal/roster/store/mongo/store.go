package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hustings/internal/roster/models"
)

// MongoStore reads the roster from one document per organization with
// nested voters, the shape the roster upload produces.
type MongoStore struct {
	collection *mongo.Collection
}

func New(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

func (s *MongoStore) Upsert(ctx context.Context, org models.Organization) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"organization": org.Name},
		org,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert roster organization: %w", err)
	}
	return nil
}

func (s *MongoStore) ListApproved(ctx context.Context) ([]models.Voter, error) {
	cur, err := s.collection.Find(ctx,
		bson.M{"status": bson.M{"$regex": "^" + models.StatusApproved + "$", "$options": "i"}},
		options.Find().SetSort(bson.D{{Key: "organization", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find roster organizations: %w", err)
	}
	var orgs []models.Organization
	if err := cur.All(ctx, &orgs); err != nil {
		return nil, fmt.Errorf("decode roster organizations: %w", err)
	}
	return models.Flatten(orgs), nil
}
