package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError("op", nil))

	err := storeError("find record", context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	err = storeError("find record", errors.New("bad document"))
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "find record")
}

func TestLookupFilter(t *testing.T) {
	f := lookupFilter([]string{"a", "b"}, "")
	assert.Equal(t, bson.M{"tracking_number": bson.M{"$in": []string{"a", "b"}}}, f)

	f = lookupFilter([]string{"a"}, domain.CarrierDHL)
	assert.Equal(t, "DHL", f["carrier"])
}

func TestNormalizeDecoded(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	checked := time.Date(2025, 3, 10, 6, 0, 0, 0, loc)
	rec := &domain.TrackingRecord{
		LastChecked: &checked,
		Events:      []domain.TrackingEvent{{Timestamp: time.Date(2025, 3, 10, 5, 0, 0, 0, loc)}},
	}

	normalizeDecoded(rec)

	assert.NotNil(t, rec.RoutePoints)
	assert.Equal(t, time.UTC, rec.LastChecked.Location())
	assert.Equal(t, 11, rec.Events[0].Timestamp.Hour())
}

func TestAuditDocument(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	doc := auditDocument(domain.NotificationTrigger{ID: "t-1", NewStatus: domain.StatusDelivered}, now)

	raw, err := bson.Marshal(doc)
	assert.NoError(t, err)

	var m bson.M
	assert.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "t-1", m["trigger_id"])
	assert.Equal(t, "DELIVERED", m["new_status"])
	assert.Contains(t, m, "processed_at")
}
