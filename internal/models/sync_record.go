package models

import (
	"encoding/json"
	"time"
)

// SyncRecord is one pending synchronization of an entity against the hub or a provider.
type SyncRecord struct {
	ID         string          `json:"id"`
	Operation  Operation       `json:"operation"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`
	Status     SyncStatus      `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  *string         `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

// NewSyncRecord builds a pending record with zero attempts.
func NewSyncRecord(op Operation, entityType, entityID string, data json.RawMessage, now time.Time) SyncRecord {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return SyncRecord{
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
		Status:     SyncPending,
		CreatedAt:  now,
	}
}

// SyncStats counts records per status.
type SyncStats map[SyncStatus]int

func (s SyncStats) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}
