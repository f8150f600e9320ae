package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hustings/internal/ballot/models"
	platformmongo "hustings/internal/platform/mongo"
	"hustings/pkg/domain"
	"hustings/pkg/platform/sentinel"
)

// countedField lists, on each nomination, the ballots already counted for
// it. It makes every increment idempotent and lets repair rebuild votes.
const countedField = "counted_ballots"

type document struct {
	ID              string            `bson:"_id"`
	VoterEmail      string            `bson:"voterEmail"`
	VoterEmailNorm  string            `bson:"voterEmailNorm"`
	VoterName       string            `bson:"voterName"`
	VoterMembership string            `bson:"voterMembership,omitempty"`
	Votes           map[string]string `bson:"votes"`
	IdempotencyKey  string            `bson:"idempotencyKey"`
	SourceAddress   string            `bson:"sourceAddress,omitempty"`
	UserAgent       string            `bson:"userAgent,omitempty"`
	SubmittedAt     time.Time         `bson:"submittedAt"`
}

// MongoLedger stores ballots in the votes collection and counts them on
// the nomination documents.
//
// With transactions the insert and the increments commit together. Without
// them the insert comes first and each increment is applied separately,
// guarded by counted_ballots; a commit that cannot finish them reports
// sentinel.ErrPartial and is completed by a later Commit or by Repair.
type MongoLedger struct {
	ballots      *mongo.Collection
	nominations  *mongo.Collection
	transactions bool
}

type Option func(*MongoLedger)

// WithTransactions commits through multi-document transactions. Requires a
// replica set.
func WithTransactions(enabled bool) Option {
	return func(l *MongoLedger) {
		l.transactions = enabled
	}
}

func New(ballots, nominations *mongo.Collection, opts ...Option) *MongoLedger {
	l := &MongoLedger{ballots: ballots, nominations: nominations}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureIndexes creates the unique voter and idempotency indexes that make
// one ballot per voter a storage guarantee.
func (l *MongoLedger) EnsureIndexes(ctx context.Context) error {
	_, err := l.ballots.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "voterEmailNorm", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "idempotencyKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "submittedAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create ballot indexes: %w", err)
	}
	return nil
}

func (l *MongoLedger) Commit(ctx context.Context, b *models.Ballot) error {
	if l.transactions {
		return l.commitTx(ctx, b)
	}
	if err := l.insert(ctx, b); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert ballot: %w", platformmongo.Classify(err))
		}
		if err := l.alreadyUsed(ctx, b); err != nil {
			return err
		}
	}
	return l.count(ctx, b, false)
}

func (l *MongoLedger) commitTx(ctx context.Context, b *models.Ballot) error {
	sess, err := l.ballots.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", platformmongo.Classify(err))
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if err := l.insert(sc, b); err != nil {
			return nil, err
		}
		return nil, l.count(sc, b, true)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrInvalidState):
		return err
	case mongo.IsDuplicateKeyError(err):
		// a transactional ballot that exists was counted in full
		return l.alreadyUsed(ctx, b)
	}
	return fmt.Errorf("commit ballot: %w", platformmongo.Classify(err))
}

func (l *MongoLedger) insert(ctx context.Context, b *models.Ballot) error {
	_, err := l.ballots.InsertOne(ctx, toDocument(b))
	return err
}

// alreadyUsed returns nil when b itself is the stored ballot, so the caller
// can resume counting it.
func (l *MongoLedger) alreadyUsed(ctx context.Context, b *models.Ballot) error {
	n, err := l.ballots.CountDocuments(ctx, bson.M{"_id": b.ID.String()})
	if err != nil {
		return fmt.Errorf("check ballot: %w", platformmongo.Classify(err))
	}
	if n > 0 {
		return nil
	}
	return fmt.Errorf("voter email or idempotency key: %w", sentinel.ErrAlreadyUsed)
}

// count applies the ballot's increments. Each is guarded by counted_ballots
// so reapplying is harmless. With eligible set an increment also requires
// the candidate to be approved and accepted.
func (l *MongoLedger) count(ctx context.Context, b *models.Ballot, eligible bool) error {
	var failed []error
	for _, id := range b.NominationIDs() {
		filter := bson.M{"_id": id.String(), countedField: bson.M{"$ne": b.ID.String()}}
		if eligible {
			filter["status"] = "approved"
			filter["acceptanceStatus"] = "Accepted"
		}
		res, err := l.nominations.UpdateOne(ctx, filter, bson.M{
			"$inc":  bson.M{"votes": 1},
			"$push": bson.M{countedField: b.ID.String()},
		})
		if err != nil {
			if l.transactions {
				return err
			}
			failed = append(failed, fmt.Errorf("nomination %s: %w", id, platformmongo.Classify(err)))
			continue
		}
		if res.MatchedCount > 0 {
			continue
		}
		if err := l.checkCounted(ctx, b.ID, id); err != nil {
			if l.transactions || errors.Is(err, sentinel.ErrInvalidState) {
				return err
			}
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return errors.Join(append([]error{sentinel.ErrPartial}, failed...)...)
	}
	return nil
}

// checkCounted explains an increment that matched nothing: either the ballot
// was already counted for the candidate, or the candidate is gone or
// ineligible.
func (l *MongoLedger) checkCounted(ctx context.Context, ballot domain.BallotID, id domain.NominationID) error {
	n, err := l.nominations.CountDocuments(ctx, bson.M{"_id": id.String(), countedField: ballot.String()})
	if err != nil {
		return fmt.Errorf("check nomination %s: %w", id, platformmongo.Classify(err))
	}
	if n > 0 {
		return nil
	}
	return fmt.Errorf("nomination %s cannot be counted: %w", id, sentinel.ErrInvalidState)
}

func (l *MongoLedger) FindByIdempotencyKey(ctx context.Context, key string) (*models.Ballot, error) {
	return l.findOne(ctx, bson.M{"idempotencyKey": key})
}

func (l *MongoLedger) FindByEmail(ctx context.Context, email string) (*models.Ballot, error) {
	return l.findOne(ctx, bson.M{"voterEmailNorm": models.NormalizeEmail(email)})
}

func (l *MongoLedger) findOne(ctx context.Context, filter bson.M) (*models.Ballot, error) {
	var doc document
	if err := l.ballots.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find ballot: %w", platformmongo.Classify(err))
	}
	return fromDocument(doc)
}

func (l *MongoLedger) List(ctx context.Context) ([]*models.Ballot, error) {
	cur, err := l.ballots.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "submittedAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", platformmongo.Classify(err))
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode ballots: %w", platformmongo.Classify(err))
	}
	out := make([]*models.Ballot, 0, len(docs))
	for _, doc := range docs {
		b, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (l *MongoLedger) Turnout(ctx context.Context) (models.Turnout, error) {
	ballots, err := l.List(ctx)
	if err != nil {
		return models.Turnout{}, err
	}
	return models.CountTurnout(ballots), nil
}

func (l *MongoLedger) BallotIDs(ctx context.Context) ([]domain.BallotID, error) {
	cur, err := l.ballots.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list ballot ids: %w", platformmongo.Classify(err))
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode ballot ids: %w", platformmongo.Classify(err))
	}
	ids := make([]domain.BallotID, 0, len(docs))
	for _, d := range docs {
		id, err := domain.ParseBallotID(d.ID)
		if err != nil {
			return nil, fmt.Errorf("stored ballot id %q: %w", d.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Tally recounts selections from the ballot log and reads the counters. The
// two reads are not one snapshot; callers confirm drift with a second read.
func (l *MongoLedger) Tally(ctx context.Context) (models.TallySnapshot, error) {
	cur, err := l.ballots.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$project", Value: bson.D{{Key: "v", Value: bson.D{{Key: "$objectToArray", Value: "$votes"}}}}}},
		{{Key: "$unwind", Value: "$v"}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$v.v"}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return models.TallySnapshot{}, fmt.Errorf("recount: %w", platformmongo.Classify(err))
	}
	var recounted []struct {
		ID string `bson:"_id"`
		N  int64  `bson:"n"`
	}
	if err := cur.All(ctx, &recounted); err != nil {
		return models.TallySnapshot{}, fmt.Errorf("decode recount: %w", platformmongo.Classify(err))
	}
	snap := models.TallySnapshot{
		Recount:  make(map[domain.NominationID]int64, len(recounted)),
		Counters: make(map[domain.NominationID]int64),
	}
	for _, r := range recounted {
		id, err := domain.ParseNominationID(r.ID)
		if err != nil {
			return models.TallySnapshot{}, fmt.Errorf("stored selection %q: %w", r.ID, err)
		}
		snap.Recount[id] = r.N
	}

	cur, err = l.nominations.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"votes": 1}))
	if err != nil {
		return models.TallySnapshot{}, fmt.Errorf("read counters: %w", platformmongo.Classify(err))
	}
	var counters []struct {
		ID    string `bson:"_id"`
		Votes int64  `bson:"votes"`
	}
	if err := cur.All(ctx, &counters); err != nil {
		return models.TallySnapshot{}, fmt.Errorf("decode counters: %w", platformmongo.Classify(err))
	}
	for _, c := range counters {
		id, err := domain.ParseNominationID(c.ID)
		if err != nil {
			return models.TallySnapshot{}, fmt.Errorf("stored nomination %q: %w", c.ID, err)
		}
		snap.Counters[id] = c.Votes
	}
	return snap, nil
}

// Repair first completes the increments of every stored ballot, then sets
// each counter to the size of its counted_ballots list.
func (l *MongoLedger) Repair(ctx context.Context) (int, error) {
	ballots, err := l.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range ballots {
		if err := l.count(ctx, b, false); err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
			return 0, fmt.Errorf("recount ballot %s: %w", b.ID, err)
		}
	}
	size := bson.D{{Key: "$size", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$" + countedField, bson.A{}}}}}}
	res, err := l.nominations.UpdateMany(ctx,
		bson.D{{Key: "$expr", Value: bson.D{{Key: "$ne", Value: bson.A{"$votes", size}}}}},
		mongo.Pipeline{{{Key: "$set", Value: bson.D{{Key: "votes", Value: size}}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("repair counters: %w", platformmongo.Classify(err))
	}
	return int(res.ModifiedCount), nil
}

func toDocument(b *models.Ballot) document {
	votes := make(map[string]string, len(b.Selections))
	for p, id := range b.Selections {
		votes[string(p)] = id.String()
	}
	return document{
		ID:              b.ID.String(),
		VoterEmail:      b.VoterEmail,
		VoterEmailNorm:  b.EmailKey(),
		VoterName:       b.VoterName,
		VoterMembership: b.VoterMembership,
		Votes:           votes,
		IdempotencyKey:  b.IdempotencyKey,
		SourceAddress:   b.SourceAddress,
		UserAgent:       b.UserAgent,
		SubmittedAt:     b.SubmittedAt,
	}
}

func fromDocument(doc document) (*models.Ballot, error) {
	id, err := domain.ParseBallotID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("stored ballot id %q: %w", doc.ID, err)
	}
	selections := make(map[domain.Position]domain.NominationID, len(doc.Votes))
	for p, raw := range doc.Votes {
		nid, err := domain.ParseNominationID(raw)
		if err != nil {
			return nil, fmt.Errorf("stored selection %q: %w", raw, err)
		}
		selections[domain.Position(p)] = nid
	}
	return &models.Ballot{
		ID:              id,
		VoterEmail:      doc.VoterEmail,
		VoterName:       doc.VoterName,
		VoterMembership: doc.VoterMembership,
		Selections:      selections,
		IdempotencyKey:  doc.IdempotencyKey,
		SourceAddress:   doc.SourceAddress,
		UserAgent:       doc.UserAgent,
		SubmittedAt:     doc.SubmittedAt.UTC(),
	}, nil
}
