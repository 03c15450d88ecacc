package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// maxSerializationRetries bounds how often an Update is replayed after a
// serialization failure or deadlock.
const maxSerializationRetries = 5

// PostgresStore persists records in a single PostgreSQL table.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore opens the database, checks connectivity and creates the
// schema if needed.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		record_type SMALLINT NOT NULL,
		record_id TEXT NOT NULL,
		value BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (record_type, record_id)
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(&postgresTx{ctx: ctx, tx: tx, readOnly: true})
}

// Update runs fn in a serializable transaction, replaying it when PostgreSQL
// reports a serialization failure. fn must therefore be free of side effects
// outside the transaction.
func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	var err error
	for attempt := 0; attempt < maxSerializationRetries; attempt++ {
		err = s.update(ctx, fn)
		if !isRetryable(err) {
			return err
		}
		log.Printf("WARNING: Serialization conflict on attempt %d, retrying: %v", attempt+1, err)
	}
	return err
}

func (s *PostgresStore) update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&postgresTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	}
	return false
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type postgresTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

func (t *postgresTx) Get(key Key) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT value FROM records WHERE record_type = $1 AND record_id = $2",
		int16(key.Type), key.ID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (t *postgresTx) Put(key Key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	query := `
	INSERT INTO records (record_type, record_id, value, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (record_type, record_id) DO UPDATE SET
		value = EXCLUDED.value,
		updated_at = NOW()
	`
	if _, err := t.tx.ExecContext(t.ctx, query, int16(key.Type), key.ID, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (t *postgresTx) Insert(key Key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	query := `
	INSERT INTO records (record_type, record_id, value)
	VALUES ($1, $2, $3)
	ON CONFLICT (record_type, record_id) DO NOTHING
	`
	res, err := t.tx.ExecContext(t.ctx, query, int16(key.Type), key.ID, value)
	if err != nil {
		return fmt.Errorf("insert %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: %w", key, err)
	}
	if n == 0 {
		return ErrKeyExists
	}
	return nil
}

func (t *postgresTx) Delete(key Key) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM records WHERE record_type = $1 AND record_id = $2",
		int16(key.Type), key.ID,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (t *postgresTx) Scan(rt RecordType, prefix string, fn func(Key, []byte) error) error {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT record_id, value FROM records
		WHERE record_type = $1 AND left(record_id, length($2)) = $2
		ORDER BY record_id
	`, int16(rt), prefix)
	if err != nil {
		return fmt.Errorf("scan %s: %w", rt, err)
	}

	type row struct {
		id    string
		value []byte
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.value); err != nil {
			rows.Close()
			return fmt.Errorf("scanning row: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	// Rows are drained before fn runs so fn can issue statements on the same tx.
	for _, r := range all {
		if err := fn(Key{Type: rt, ID: r.id}, r.value); err != nil {
			return err
		}
	}
	return nil
}
