package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	platformmongo "hustings/internal/platform/mongo"
	"hustings/internal/settings/models"
	"hustings/pkg/domain"
)

const documentID = "current"

type document struct {
	ID        string          `bson:"_id"`
	Positions map[string]bool `bson:"positions"`
	UpdatedAt time.Time       `bson:"updatedAt"`
}

// MongoStore keeps the voting window as the singleton votingOpenSettings
// document.
type MongoStore struct {
	collection *mongo.Collection
}

func New(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

func (s *MongoStore) Get(ctx context.Context) (models.OpenPositions, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.OpenPositions{}.Complete(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read voting settings: %w", platformmongo.Classify(err))
	}
	open := models.OpenPositions{}
	for k, v := range doc.Positions {
		if p := domain.Position(k); p.IsValid() {
			open[p] = v
		}
	}
	return open.Complete(), nil
}

func (s *MongoStore) Set(ctx context.Context, open models.OpenPositions) error {
	positions := make(map[string]bool, len(domain.AllPositions()))
	for p, v := range open.Complete() {
		positions[string(p)] = v
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": documentID},
		document{ID: documentID, Positions: positions, UpdatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("write voting settings: %w", platformmongo.Classify(err))
	}
	return nil
}
