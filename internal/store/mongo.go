package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

const mongoOpTimeout = 5 * time.Second

// MongoStore persists valuations as documents keyed by valuation id.
type MongoStore struct {
	valuations *mongo.Collection
}

// NewMongoStore uses the "valuations" collection of the given database
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{valuations: client.Database(dbName).Collection("valuations")}
}

// EnsureIndexes creates the indexes used by the refinement scans
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.valuations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "payment.transaction_id", Value: 1}}},
	})
	return err
}

// Insert stores a new valuation document
func (s *MongoStore) Insert(ctx context.Context, v model.StoredValuation) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if v.RefinementHistory == nil {
		v.RefinementHistory = []model.RefinementRecord{}
	}
	_, err := s.valuations.InsertOne(ctx, v)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

// Load fetches one valuation
func (s *MongoStore) Load(ctx context.Context, id string) (model.StoredValuation, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var v model.StoredValuation
	err := s.valuations.FindOne(ctx, bson.M{"_id": id}).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.StoredValuation{}, ErrNotFound
		}
		return model.StoredValuation{}, err
	}
	return v, nil
}

// Save applies the patch atomically, matching on both id and expected version
func (s *MongoStore) Save(ctx context.Context, id string, patch model.Patch) (model.StoredValuation, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	set := bson.M{}
	if patch.MarketValue != nil {
		set["result.market_value"] = *patch.MarketValue
	}
	if patch.HistoricalTrendPercentage != nil {
		set["market_insights.historical_trend_pct"] = *patch.HistoricalTrendPercentage
	}
	if patch.LastUpdated != nil {
		set["last_updated"] = *patch.LastUpdated
	}
	if patch.Competitors != nil {
		set["result.business.competitors"] = patch.Competitors
	}
	if patch.ShortTermPrediction != nil {
		set["result.business.short_term_prediction"] = patch.ShortTermPrediction
	}

	update := bson.M{"$inc": bson.M{"version": 1}}
	if len(set) > 0 {
		update["$set"] = set
	}
	if patch.AppendRefinement != nil {
		update["$push"] = bson.M{"refinement_history": *patch.AppendRefinement}
	}

	filter := bson.M{"_id": id, "version": patch.ExpectedVersion}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated model.StoredValuation
	err := s.valuations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return model.StoredValuation{}, err
	}

	// nothing matched: either the id is unknown or the version moved on
	n, countErr := s.valuations.CountDocuments(ctx, bson.M{"_id": id})
	if countErr != nil {
		return model.StoredValuation{}, countErr
	}
	if n == 0 {
		return model.StoredValuation{}, ErrNotFound
	}
	return model.StoredValuation{}, ErrVersionConflict
}

// ListCompleted returns completed valuations ordered by creation time
func (s *MongoStore) ListCompleted(ctx context.Context) ([]model.StoredValuation, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.valuations.Find(ctx, bson.M{"status": model.StatusCompleted}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.StoredValuation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
