package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/obslog"
	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_events (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_id           TEXT NOT NULL,
	project_identifier TEXT NOT NULL,
	sequence_id        INTEGER NOT NULL,
	event_type         TEXT NOT NULL,
	phase              TEXT NOT NULL DEFAULT '',
	detail             TEXT NOT NULL DEFAULT '',
	cost_usd           REAL NOT NULL DEFAULT 0,
	retry_count        INTEGER NOT NULL DEFAULT 0,
	occurred_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_events_issue
	ON task_events(issue_id, occurred_at);

CREATE INDEX IF NOT EXISTS idx_task_events_project
	ON task_events(project_identifier, occurred_at);
`

// row is the sqlx scan target for task_events; Event itself carries a
// v1.Phase and EventType rather than bare strings, so rows are mapped
// rather than scanned directly into Event.
type row struct {
	IssueID           string    `db:"issue_id"`
	ProjectIdentifier string    `db:"project_identifier"`
	SequenceID        int       `db:"sequence_id"`
	EventType         string    `db:"event_type"`
	Phase             string    `db:"phase"`
	Detail            string    `db:"detail"`
	CostUSD           float64   `db:"cost_usd"`
	RetryCount        int       `db:"retry_count"`
	OccurredAt        time.Time `db:"occurred_at"`
}

func (r row) toEvent() Event {
	return Event{
		IssueID:           r.IssueID,
		ProjectIdentifier: r.ProjectIdentifier,
		SequenceID:        r.SequenceID,
		Type:              EventType(r.EventType),
		Phase:             v1.Phase(r.Phase),
		Detail:            r.Detail,
		CostUSD:           r.CostUSD,
		RetryCount:        r.RetryCount,
		OccurredAt:        r.OccurredAt,
	}
}

// Store is a sqlite-backed Recorder with a couple of read paths for
// internal/statusapi to surface. A single connection is used for both
// reads and writes: this table is low-volume (one insert per lifecycle
// transition, not per poll tick), so the write-serialization teacher's
// internal/db/sqlite.go applies to high-throughput tables doesn't pay
// for itself here.
type Store struct {
	db  *sqlx.DB
	log *obslog.Logger
}

// Open creates (if needed) and opens the sqlite audit log at path.
func Open(path string, log *obslog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

var _ Recorder = (*Store)(nil)

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends ev, stamping OccurredAt if the caller left it zero.
// Failures are logged and swallowed: the audit log is a diagnostic
// aid, not a dependency the orchestrator's control flow can fail on.
func (s *Store) Record(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	const insert = `
		INSERT INTO task_events
			(issue_id, project_identifier, sequence_id, event_type, phase, detail, cost_usd, retry_count, occurred_at)
		VALUES
			(:issue_id, :project_identifier, :sequence_id, :event_type, :phase, :detail, :cost_usd, :retry_count, :occurred_at)
	`
	_, err := s.db.NamedExecContext(ctx, insert, map[string]interface{}{
		"issue_id":           ev.IssueID,
		"project_identifier": ev.ProjectIdentifier,
		"sequence_id":        ev.SequenceID,
		"event_type":         string(ev.Type),
		"phase":              string(ev.Phase),
		"detail":             ev.Detail,
		"cost_usd":           ev.CostUSD,
		"retry_count":        ev.RetryCount,
		"occurred_at":        ev.OccurredAt,
	})
	if err != nil && s.log != nil {
		s.log.Warn("failed to record history event", zap.String("issueId", ev.IssueID), zap.String("eventType", string(ev.Type)), zap.Error(err))
	}
}

// ForTask returns every recorded event for a single issue, oldest first.
func (s *Store) ForTask(ctx context.Context, issueID string) ([]Event, error) {
	var rows []row
	const q = `SELECT * FROM task_events WHERE issue_id = ? ORDER BY occurred_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &rows, q, issueID); err != nil {
		return nil, fmt.Errorf("query task history: %w", err)
	}
	return toEvents(rows), nil
}

// Recent returns the most recently recorded events across all tasks,
// newest first, capped at limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	var rows []row
	const q = `SELECT * FROM task_events ORDER BY occurred_at DESC, id DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("query recent history: %w", err)
	}
	return toEvents(rows), nil
}

func toEvents(rows []row) []Event {
	out := make([]Event, len(rows))
	for i, r := range rows {
		out[i] = r.toEvent()
	}
	return out
}
