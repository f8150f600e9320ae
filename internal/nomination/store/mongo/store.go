package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hustings/internal/nomination/models"
	platformmongo "hustings/internal/platform/mongo"
	"hustings/pkg/domain"
	"hustings/pkg/platform/sentinel"
)

// document is the stored shape. counted_ballots is maintained by the ballot
// ledger and never read here.
type document struct {
	ID                string `bson:"_id"`
	models.Nomination `bson:",inline"`
}

// MongoStore persists nominations in the nominations collection.
type MongoStore struct {
	collection *mongo.Collection
}

func New(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// EnsureIndexes creates the listing indexes. Safe to call repeatedly.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "nominee.position", Value: 1}, {Key: "submittedAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "acceptanceStatus", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create nomination indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, n *models.Nomination) error {
	_, err := s.collection.InsertOne(ctx, document{ID: n.ID.String(), Nomination: *n})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("nomination %s: %w", n.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert nomination: %w", platformmongo.Classify(err))
	}
	return nil
}

func (s *MongoStore) FindByID(ctx context.Context, id domain.NominationID) (*models.Nomination, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find nomination: %w", platformmongo.Classify(err))
	}
	return fromDocument(doc)
}

func (s *MongoStore) List(ctx context.Context, filter models.Filter) ([]*models.Nomination, error) {
	q := bson.M{}
	if filter.Position != "" {
		q["nominee.position"] = string(filter.Position)
	}
	if filter.Status != "" {
		q["status"] = string(filter.Status)
	}
	if filter.Acceptance != "" {
		q["acceptanceStatus"] = string(filter.Acceptance)
	}
	if text := strings.TrimSpace(filter.Query); text != "" {
		re := bson.M{"$regex": regexp.QuoteMeta(text), "$options": "i"}
		q["$or"] = bson.A{
			bson.M{"nominee.firstName": re},
			bson.M{"nominee.surname": re},
			bson.M{"nominee.organization": re},
		}
	}
	cur, err := s.collection.Find(ctx, q,
		options.Find().SetSort(bson.D{{Key: "submittedAt", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list nominations: %w", platformmongo.Classify(err))
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode nominations: %w", platformmongo.Classify(err))
	}
	out := make([]*models.Nomination, 0, len(docs))
	for _, doc := range docs {
		n, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, id domain.NominationID, from, to models.Status, at time.Time) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updatedAt": at}},
	)
	if err != nil {
		return fmt.Errorf("update nomination status: %w", platformmongo.Classify(err))
	}
	return s.conditional(ctx, res, id)
}

func (s *MongoStore) UpdateAcceptance(ctx context.Context, id domain.NominationID, from, to models.Acceptance, at time.Time) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "acceptanceStatus": string(from)},
		bson.M{"$set": bson.M{"acceptanceStatus": string(to), "updatedAt": at}},
	)
	if err != nil {
		return fmt.Errorf("update nomination acceptance: %w", platformmongo.Classify(err))
	}
	return s.conditional(ctx, res, id)
}

// SetAcceptanceTokenIfAbsent sets the token only where none is stored, then
// returns the stored token.
func (s *MongoStore) SetAcceptanceTokenIfAbsent(ctx context.Context, id domain.NominationID, token string, at time.Time) (string, error) {
	var doc document
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "$or": bson.A{
			bson.M{"acceptanceToken": bson.M{"$exists": false}},
			bson.M{"acceptanceToken": ""},
		}},
		bson.M{"$set": bson.M{"acceptanceToken": token, "updatedAt": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.AcceptanceToken, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", fmt.Errorf("set acceptance token: %w", platformmongo.Classify(err))
	}
	existing, err := s.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return existing.AcceptanceToken, nil
}

func (s *MongoStore) conditional(ctx context.Context, res *mongo.UpdateResult, id domain.NominationID) error {
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("check nomination: %w", platformmongo.Classify(err))
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func fromDocument(doc document) (*models.Nomination, error) {
	id, err := domain.ParseNominationID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("nomination document %q: %w", doc.ID, err)
	}
	n := doc.Nomination
	n.ID = id
	return &n, nil
}
