package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"lukechampine.com/blake3"
)

const headerIdempotencyKey = "Idempotency-Key"

// ErrIdempotencyMismatch is returned when a key is reused with a different
// request body.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

type idempotencyRecord struct {
	Key         string `gorm:"column:idempotency_key;primaryKey;size:128"`
	RequestHash string `gorm:"size:64;not null"`
	Status      int    `gorm:"not null"`
	Body        []byte `gorm:"not null"`
	CreatedAt   time.Time
}

func (idempotencyRecord) TableName() string { return "relay_idempotency" }

// StoredResponse is a cached relay answer.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyStore caches successful relay responses by Idempotency-Key so
// a client may retry a submission without risking a second nonce error.
type IdempotencyStore struct {
	db *gorm.DB
}

// NewIdempotencyStore migrates the cache table on db.
func NewIdempotencyStore(db *gorm.DB) (*IdempotencyStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: database required")
	}
	if err := db.AutoMigrate(&idempotencyRecord{}); err != nil {
		return nil, fmt.Errorf("idempotency: migrate: %w", err)
	}
	return &IdempotencyStore{db: db}, nil
}

// Lookup returns the cached response for key, nil when there is none, or
// ErrIdempotencyMismatch when key was stored for a different body.
func (s *IdempotencyStore) Lookup(ctx context.Context, key, requestHash string) (*StoredResponse, error) {
	var record idempotencyRecord
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: lookup: %w", err)
	}
	if record.RequestHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: record.Status, Body: record.Body}, nil
}

// Save records the response for key. An existing entry is kept.
func (s *IdempotencyStore) Save(ctx context.Context, key, requestHash string, status int, body []byte) error {
	record := idempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      status,
		Body:        append([]byte(nil), body...),
		CreatedAt:   time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("idempotency: save: %w", err)
	}
	return nil
}

func hashRequest(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}
