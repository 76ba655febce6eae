// Package eventlog persists committed events in a SQL index so operators can
// audit voucher histories after the in-memory stream has rotated.
package eventlog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"voucherchain/core/events"
)

// ErrDigestMismatch is returned by Verify when a stored row was altered.
var ErrDigestMismatch = errors.New("eventlog: digest mismatch")

// subjectKeys are the attributes that identify what an event is about, in
// order of preference.
var subjectKeys = []string{"id", "setId", "party", "holder"}

// Entry is one persisted event.
type Entry struct {
	Sequence   uint64 `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"index;not null"`
	Subject    string `gorm:"index"`
	Payload    string `gorm:"not null"`
	Digest     string `gorm:"size:64;not null"`
	RecordedAt time.Time
}

// TableName pins the table name independent of the struct name.
func (Entry) TableName() string { return "voucher_events" }

// Attributes decodes the stored payload.
func (e Entry) Attributes() (map[string]string, error) {
	attrs := make(map[string]string)
	if e.Payload == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(e.Payload), &attrs); err != nil {
		return nil, fmt.Errorf("eventlog: decode payload %d: %w", e.Sequence, err)
	}
	return attrs, nil
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	Type    string
	Subject string
	After   uint64
	Limit   int
}

// Store is an events.Emitter that appends every event it receives.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open connects to dsn and migrates the event table.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	db, err := Dial(dsn)
	if err != nil {
		return nil, err
	}
	return New(db, log)
}

// Dial opens a gorm connection. DSNs starting with postgres:// or
// postgresql:// use the Postgres driver; anything else is treated as a SQLite
// file or URI.
func Dial(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("eventlog: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	return db, nil
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("eventlog: db required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     db,
		logger: log.With(slog.String("component", "eventlog")),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// DB exposes the underlying connection so other stores can share it.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Persistence failures are logged; the
// event has already been committed to state by the time it reaches the log.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if _, err := s.Append(context.Background(), evt); err != nil {
		s.logger.Error("append event failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores evt and returns the persisted entry.
func (s *Store) Append(ctx context.Context, evt events.Event) (*Entry, error) {
	if evt == nil {
		return nil, fmt.Errorf("eventlog: nil event")
	}
	attrs := map[string]string{}
	if payload, ok := evt.(events.Payload); ok {
		if body := payload.Event(); body != nil && body.Attributes != nil {
			attrs = body.Attributes
		}
	}
	// encoding/json sorts map keys, so the payload is canonical.
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("eventlog: encode payload: %w", err)
	}
	entry := &Entry{
		Type:       evt.EventType(),
		Subject:    subjectOf(attrs),
		Payload:    string(raw),
		Digest:     digest(evt.EventType(), raw),
		RecordedAt: s.nowFn(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("eventlog: insert: %w", err)
	}
	return entry, nil
}

// Query returns entries matching filter in sequence order.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	q := s.db.WithContext(ctx).Model(&Entry{}).Where("sequence > ?", filter.After)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Subject != "" {
		q = q.Where("subject = ?", filter.Subject)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []Entry
	if err := q.Order("sequence ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	return out, nil
}

// Verify recomputes the digest of every entry matching filter and reports
// the first one whose stored payload no longer matches.
func (s *Store) Verify(ctx context.Context, filter Filter) error {
	entries, err := s.Query(ctx, filter)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if digest(entry.Type, []byte(entry.Payload)) != entry.Digest {
			return fmt.Errorf("%w: sequence %d", ErrDigestMismatch, entry.Sequence)
		}
	}
	return nil
}

func digest(eventType string, payload []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func subjectOf(attrs map[string]string) string {
	for _, key := range subjectKeys {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			return v
		}
	}
	return ""
}
