package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// newMockedSQLite wraps a go-sqlmock connection directly in a SQLite,
// bypassing newSQLiteWithDriver/init() (whose CREATE TABLE calls this
// package's own tests have no need to script): the query logic under
// test is driver-independent once a *sql.DB is in hand, the same
// reasoning the teacher's own SQL-store unit tests apply for sqlmock.
func newMockedSQLite(t *testing.T) (*SQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &SQLite{db: db}, mock
}

func TestSQLiteAppendEventAssignsNextSeq(t *testing.T) {
	s, mock := newMockedSQLite(t)
	ctx := context.Background()
	agent := model.AgentID("a1")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), 0) FROM events WHERE agent_id = ? AND channel = ?`)).
		WithArgs(string(agent), string(model.ChannelProgress)).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO events (agent_id, channel, seq, timestamp, payload) VALUES (?, ?, ?, ?, ?)`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	seq, err := s.AppendEvent(ctx, model.EventEnvelope{
		AgentID: agent, Channel: model.ChannelProgress, Timestamp: time.Now(),
		Event: model.Event{Type: model.EventTextChunk},
	})
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if seq != 5 {
		t.Fatalf("expected seq 5 (one past the mocked max of 4), got %d", seq)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestSQLiteAppendEventRollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockedSQLite(t)
	ctx := context.Background()
	agent := model.AgentID("a1")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), 0) FROM events WHERE agent_id = ? AND channel = ?`)).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO events`)).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	if _, err := s.AppendEvent(ctx, model.EventEnvelope{
		AgentID: agent, Channel: model.ChannelMonitor, Timestamp: time.Now(),
	}); err == nil {
		t.Fatalf("expected an error when the insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestSQLiteLatestSnapshotNotFound(t *testing.T) {
	s, mock := newMockedSQLite(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT payload FROM snapshots WHERE agent_id = ?`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.LatestSnapshot(ctx, model.AgentID("missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestSQLiteAppendMessageAssignsNextOrdinal(t *testing.T) {
	s, mock := newMockedSQLite(t)
	ctx := context.Background()
	agent := model.AgentID("a1")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(ordinal), 0) FROM messages WHERE agent_id = ?`)).
		WithArgs(string(agent)).
		WillReturnRows(sqlmock.NewRows([]string{"ordinal"}).AddRow(int64(2)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO messages (agent_id, ordinal, payload) VALUES (?, ?, ?)`)).
		WithArgs(string(agent), int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	msg := model.Message{ID: model.NewID(), Role: model.RoleUser, CreatedAt: time.Now()}
	if err := s.AppendMessage(ctx, agent, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
