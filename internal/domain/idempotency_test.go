package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyRecord_States(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		record      IdempotencyRecord
		wantValid   bool
		wantExpired bool
	}{
		{
			name:      "CreateOrder in flight",
			record:    IdempotencyRecord{Key: "order-1", Status: IdempotencyStatusProcessing, TTLAt: now.Add(24 * time.Hour)},
			wantValid: true,
		},
		{
			name:      "order created and response cached",
			record:    IdempotencyRecord{Key: "order-2", Status: IdempotencyStatusDone, StatusCode: 0, ResponseBody: []byte(`{"order":{"id":"o-1"}}`), TTLAt: now.Add(time.Minute)},
			wantValid: true,
		},
		{
			name:      "product_not_available cached as failure",
			record:    IdempotencyRecord{Key: "order-3", Status: IdempotencyStatusFailed, StatusCode: 9, TTLAt: now.Add(time.Minute)},
			wantValid: true,
		},
		{
			name:        "ttl equal to now is expired",
			record:      IdempotencyRecord{Key: "order-4", Status: IdempotencyStatusProcessing, TTLAt: now},
			wantValid:   true,
			wantExpired: true,
		},
		{
			name:        "expired failure",
			record:      IdempotencyRecord{Key: "order-5", Status: IdempotencyStatusFailed, TTLAt: now.Add(-time.Second)},
			wantValid:   true,
			wantExpired: true,
		},
		{
			name:        "unknown status from storage",
			record:      IdempotencyRecord{Key: "order-6", Status: IdempotencyStatus("broken"), TTLAt: now.Add(-time.Hour)},
			wantExpired: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantValid, tt.record.Status.Valid())
			require.Equal(t, tt.wantExpired, tt.record.Expired(now))
		})
	}
}
