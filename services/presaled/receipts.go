package presaled

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bunnyriven/core/events"
)

// Receipt is the persisted form of one committed module event.
type Receipt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64    `gorm:"uniqueIndex" json:"sequence"`
	Module     string    `gorm:"size:32;index" json:"module"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Subject    string    `gorm:"size:42;index" json:"subject,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`

	Attrs map[string]string `gorm:"-" json:"attributes"`
}

// BeforeCreate assigns the identifier.
func (r *Receipt) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// AfterFind decodes the attribute blob.
func (r *Receipt) AfterFind(*gorm.DB) error {
	if r.Attributes == "" {
		return nil
	}
	return json.Unmarshal([]byte(r.Attributes), &r.Attrs)
}

// ReceiptFilter narrows List. Zero fields match everything.
type ReceiptFilter struct {
	Module  string
	Type    string
	Subject string
	After   uint64
	Limit   int
}

// ReceiptStore indexes committed events so callers can audit purchases,
// claims and withdrawals after the fact. It implements events.Emitter.
type ReceiptStore struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	seq    uint64
}

// OpenReceiptDB opens the receipt database for driver.
func OpenReceiptDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("receipts: unsupported driver %q", driver)
	}
	return gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// NewReceiptStore migrates the schema and resumes the sequence counter.
func NewReceiptStore(db *gorm.DB, log *slog.Logger) (*ReceiptStore, error) {
	if db == nil {
		return nil, fmt.Errorf("receipts: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Receipt{}); err != nil {
		return nil, fmt.Errorf("receipts: migrate: %w", err)
	}
	var last Receipt
	res := db.Order("sequence desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("receipts: resume sequence: %w", res.Error)
	}
	return &ReceiptStore{db: db, logger: log, now: time.Now, seq: last.Sequence}, nil
}

// Emit persists evt. Failures are logged; the state change it describes has
// already been committed.
func (s *ReceiptStore) Emit(evt events.Event) {
	payload := events.Payload(evt)
	if payload == nil {
		return
	}
	blob, err := json.Marshal(payload.Attributes)
	if err != nil {
		s.logger.Error("receipt encode failed", "type", payload.Type, "error", err)
		return
	}
	module := payload.Attributes["module"]
	if module == "" {
		module, _, _ = strings.Cut(payload.Type, ".")
	}
	rec := Receipt{
		Sequence:   s.seq + 1,
		Module:     module,
		Type:       payload.Type,
		Subject:    receiptSubject(payload.Attributes),
		Attributes: string(blob),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.logger.Error("receipt write failed", "type", payload.Type, "error", err)
		return
	}
	s.seq = rec.Sequence
}

func receiptSubject(attrs map[string]string) string {
	for _, key := range []string{"buyer", "caller", "winner", "holder", "from", "to"} {
		if v := attrs[key]; v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

// List returns receipts in sequence order.
func (s *ReceiptStore) List(ctx context.Context, filter ReceiptFilter) ([]Receipt, error) {
	q := s.db.WithContext(ctx).Model(&Receipt{})
	if filter.Module != "" {
		q = q.Where("module = ?", filter.Module)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Subject != "" {
		q = q.Where("subject = ?", strings.ToLower(filter.Subject))
	}
	if filter.After > 0 {
		q = q.Where("sequence > ?", filter.After)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Receipt
	if err := q.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
