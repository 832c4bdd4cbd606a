package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nexusruntime/agentrt/pkg/model"
)

// PostgresConfig holds connection parameters for a Postgres-backed Store.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane local-dev defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "agentrt",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Postgres is a Store backed by a Postgres (or Postgres-wire-compatible)
// database, reached through lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection using cfg and ensures the schema exists.
func NewPostgres(cfg *PostgresConfig) (*Postgres, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		int(cfg.ConnectTimeout.Seconds()),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			agent_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			seq BIGINT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (agent_id, channel, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			agent_id TEXT PRIMARY KEY,
			snapshot_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			agent_id TEXT NOT NULL,
			ordinal BIGINT NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (agent_id, ordinal)
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) AppendEvent(ctx context.Context, env model.EventEnvelope) (uint64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var lastSeq uint64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE agent_id = $1 AND channel = $2 FOR UPDATE`,
		string(env.AgentID), string(env.Channel))
	if err := row.Scan(&lastSeq); err != nil {
		return 0, fmt.Errorf("store: query last seq: %w", err)
	}
	env.Seq = lastSeq + 1

	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("store: marshal envelope: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (agent_id, channel, seq, timestamp, payload) VALUES ($1, $2, $3, $4, $5)`,
		string(env.AgentID), string(env.Channel), env.Seq, env.Timestamp, payload)
	if err != nil {
		return 0, fmt.Errorf("store: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return env.Seq, nil
}

func (p *Postgres) ReplayFrom(ctx context.Context, agentID model.AgentID, fromSeq uint64) ([]model.EventEnvelope, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE agent_id = $1 AND seq > $2 ORDER BY channel, seq`,
		string(agentID), fromSeq)
	if err != nil {
		return nil, fmt.Errorf("store: replay query: %w", err)
	}
	defer rows.Close()

	var out []model.EventEnvelope
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		var env model.EventEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("store: unmarshal event: %w", err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (p *Postgres) LastSeq(ctx context.Context, agentID model.AgentID) (map[model.Channel]uint64, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT channel, MAX(seq) FROM events WHERE agent_id = $1 GROUP BY channel`,
		string(agentID))
	if err != nil {
		return nil, fmt.Errorf("store: last seq query: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Channel]uint64)
	for rows.Next() {
		var ch string
		var seq uint64
		if err := rows.Scan(&ch, &seq); err != nil {
			return nil, fmt.Errorf("store: scan last seq: %w", err)
		}
		out[model.Channel(ch)] = seq
	}
	return out, rows.Err()
}

func (p *Postgres) AppendMessage(ctx context.Context, agentID model.AgentID, msg model.Message) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var ordinal uint64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ordinal), 0) FROM messages WHERE agent_id = $1 FOR UPDATE`,
		string(agentID))
	if err := row.Scan(&ordinal); err != nil {
		return fmt.Errorf("store: query last message ordinal: %w", err)
	}
	ordinal++

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("store: marshal message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (agent_id, ordinal, payload) VALUES ($1, $2, $3)`,
		string(agentID), ordinal, payload); err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) LoadMessages(ctx context.Context, agentID model.AgentID) ([]model.Message, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE agent_id = $1 ORDER BY ordinal`, string(agentID))
	if err != nil {
		return nil, fmt.Errorf("store: load messages query: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		var msg model.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("store: unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO snapshots (agent_id, snapshot_id, created_at, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_id) DO UPDATE SET snapshot_id = excluded.snapshot_id, created_at = excluded.created_at, payload = excluded.payload`,
		string(snap.AgentID), snap.SnapshotID, snap.CreatedAt, payload)
	if err != nil {
		return fmt.Errorf("store: upsert snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) LatestSnapshot(ctx context.Context, agentID model.AgentID) (model.Snapshot, error) {
	var payload []byte
	row := p.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE agent_id = $1`, string(agentID))
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return model.Snapshot{}, ErrNotFound
		}
		return model.Snapshot{}, fmt.Errorf("store: query snapshot: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("store: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (p *Postgres) ListAgents(ctx context.Context) ([]model.AgentID, error) {
	seen := make(map[model.AgentID]bool)
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT agent_id FROM events`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents (events): %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		seen[model.AgentID(id)] = true
	}
	rows.Close()

	snapRows, err := p.db.QueryContext(ctx, `SELECT agent_id FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents (snapshots): %w", err)
	}
	defer snapRows.Close()
	for snapRows.Next() {
		var id string
		if err := snapRows.Scan(&id); err != nil {
			return nil, err
		}
		seen[model.AgentID(id)] = true
	}

	out := make([]model.AgentID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

func (p *Postgres) Close() error { return p.db.Close() }
