package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

const collectionTriggers = "tracking_triggers"

// TriggerRepository keeps an audit trail of every emitted notification
// trigger. It implements ports.TriggerHandler.
type TriggerRepository struct {
	col *mongo.Collection
	now func() time.Time
}

func NewTriggerRepository(db *mongo.Database) *TriggerRepository {
	return &TriggerRepository{col: db.Collection(collectionTriggers), now: time.Now}
}

func (r *TriggerRepository) Name() string { return "mongo_audit" }

// Handle inserts the trigger. Redelivery of the same trigger ID is a no-op.
func (r *TriggerRepository) Handle(ctx context.Context, trigger domain.NotificationTrigger) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := auditDocument(trigger, r.now().UTC())
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return storeError("insert trigger", err)
	}
	return nil
}

// EnsureIndexes makes trigger_id unique and indexes triggers per record.
func (r *TriggerRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "trigger_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "ref.tracking_number", Value: 1}, {Key: "ref.carrier", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return storeError("create trigger indexes", err)
}

type auditDoc struct {
	domain.NotificationTrigger `bson:",inline"`
	ProcessedAt                time.Time `bson:"processed_at"`
}

func auditDocument(trigger domain.NotificationTrigger, processedAt time.Time) auditDoc {
	trigger.CreatedAt = trigger.CreatedAt.UTC()
	return auditDoc{NotificationTrigger: trigger, ProcessedAt: processedAt}
}
