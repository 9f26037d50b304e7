package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN          string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout      time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	MaxOpenConns int           `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"8"`
}

type memoryRow struct {
	bun.BaseModel `bun:"table:contact_memory,alias:cm"`

	Namespace string    `bun:"namespace,pk"`
	ContactID string    `bun:"contact_id,pk"`
	Payload   []byte    `bun:"payload,type:jsonb"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PostgresStore persists memory records in a single namespaced table through
// bun. Upserts are last-write-wins on (namespace, contact_id).
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return &PostgresStore{db: bun.NewDB(sqldb, pgdialect.New())}, nil
}

// Init creates the backing table when it does not exist yet.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*memoryRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create contact_memory table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, ns Namespace, contactID string, out any) error {
	if strings.TrimSpace(contactID) == "" {
		return ErrInvalidContact
	}

	row := new(memoryRow)
	err := s.db.NewSelect().
		Model(row).
		Where("cm.namespace = ?", string(ns)).
		Where("cm.contact_id = ?", contactID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMemoryNotFound
	}
	if err != nil {
		return fmt.Errorf("select memory record: %w", err)
	}
	if err := json.Unmarshal(row.Payload, out); err != nil {
		return fmt.Errorf("unmarshal memory record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, ns Namespace, contactID string, v any) error {
	if strings.TrimSpace(contactID) == "" {
		return ErrInvalidContact
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}

	row := &memoryRow{
		Namespace: string(ns),
		ContactID: contactID,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (namespace, contact_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert memory record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, ns Namespace, contactID string) error {
	if strings.TrimSpace(contactID) == "" {
		return ErrInvalidContact
	}
	_, err := s.db.NewDelete().
		Model((*memoryRow)(nil)).
		Where("namespace = ?", string(ns)).
		Where("contact_id = ?", contactID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete memory record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, ns Namespace, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}

	var ids []string
	err := s.db.NewSelect().
		Model((*memoryRow)(nil)).
		Column("contact_id").
		Where("namespace = ?", string(ns)).
		OrderExpr("updated_at DESC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
