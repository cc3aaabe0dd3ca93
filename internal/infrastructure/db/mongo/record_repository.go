package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

const collectionRecords = "tracking_records"

// RecordRepository implements ports.RecordStore on MongoDB. Each record is a
// single document keyed by (tracking_number, carrier) so every merge is an
// atomic document replace guarded by the version field.
type RecordRepository struct {
	col *mongo.Collection
}

var _ ports.RecordStore = (*RecordRepository)(nil)

func NewRecordRepository(db *mongo.Database) *RecordRepository {
	return &RecordRepository{col: db.Collection(collectionRecords)}
}

// Get retrieves one record by its identity.
func (r *RecordRepository) Get(ctx context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rec domain.TrackingRecord
	err := r.col.FindOne(ctx, refFilter(ref)).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, storeError("find record", err)
	}
	normalizeDecoded(&rec)
	return &rec, nil
}

// Put inserts a new record (Version 0) or replaces the stored one if its
// version still matches. On success rec.Version is incremented.
func (r *RecordRepository) Put(ctx context.Context, rec *domain.TrackingRecord) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := rec.Clone()
	doc.Version = rec.Version + 1

	if rec.Version == 0 {
		res, err := r.col.InsertOne(ctx, doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return domain.ErrMergeConflict
			}
			return storeError("insert record", err)
		}
		if id, ok := res.InsertedID.(interface{ Hex() string }); ok {
			rec.ID = id.Hex()
		}
		rec.Version = doc.Version
		return nil
	}

	// _id is immutable; leave it out of the replacement document.
	doc.ID = ""
	filter := refFilter(rec.Ref())
	filter["version"] = rec.Version

	res, err := r.col.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return storeError("replace record", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrMergeConflict
	}
	rec.Version = doc.Version
	return nil
}

// ListActive returns records that are not terminal, or became terminal after
// terminalSince.
func (r *RecordRepository) ListActive(ctx context.Context, terminalSince time.Time) ([]*domain.TrackingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"terminal_at": bson.M{"$exists": false}},
		bson.M{"terminal_at": nil},
		bson.M{"terminal_at": bson.M{"$gt": terminalSince.UTC()}},
	}}
	// The scheduler only needs identity and timing fields.
	opts := options.Find().SetProjection(bson.M{
		"tracking_number": 1,
		"carrier":         1,
		"check_frequency": 1,
		"last_checked":    1,
		"terminal_at":     1,
		"version":         1,
	})
	return r.find(ctx, filter, opts)
}

// FindByTrackingNumbers returns every stored record for numbers. A non-empty
// carrier restricts the match.
func (r *RecordRepository) FindByTrackingNumbers(ctx context.Context, numbers []string, carrier domain.Carrier) ([]*domain.TrackingRecord, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return r.find(ctx, lookupFilter(numbers, carrier), options.Find().SetSort(bson.D{{Key: "tracking_number", Value: 1}}))
}

func (r *RecordRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.TrackingRecord, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeError("find records", err)
	}
	defer cur.Close(ctx)

	var out []*domain.TrackingRecord
	for cur.Next(ctx) {
		var rec domain.TrackingRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, storeError("decode record", err)
		}
		normalizeDecoded(&rec)
		out = append(out, &rec)
	}
	if err := cur.Err(); err != nil {
		return nil, storeError("iterate records", err)
	}
	return out, nil
}

// EnsureIndexes creates the identity index and the terminal_at index used by
// ListActive.
func (r *RecordRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tracking_number", Value: 1}, {Key: "carrier", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "terminal_at", Value: 1}}},
		{Keys: bson.D{{Key: "customer_id", Value: 1}}},
	}

	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return storeError("create record indexes", err)
}

func refFilter(ref domain.RecordRef) bson.M {
	return bson.M{"tracking_number": ref.TrackingNumber, "carrier": string(ref.Carrier)}
}

func lookupFilter(numbers []string, carrier domain.Carrier) bson.M {
	filter := bson.M{"tracking_number": bson.M{"$in": numbers}}
	if carrier != "" {
		filter["carrier"] = string(carrier)
	}
	return filter
}

// normalizeDecoded restores the invariants the driver does not: UTC times and
// non-nil slices.
func normalizeDecoded(rec *domain.TrackingRecord) {
	if rec.Events == nil {
		rec.Events = []domain.TrackingEvent{}
	}
	if rec.RoutePoints == nil {
		rec.RoutePoints = []domain.Coordinates{}
	}
	for i := range rec.Events {
		rec.Events[i].Timestamp = rec.Events[i].Timestamp.UTC()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	for _, t := range []*time.Time{rec.EstimatedDelivery, rec.ActualDelivery, rec.LastChecked, rec.TerminalAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
}
