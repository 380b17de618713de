package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/triagestack/ticket-router/internal/models"
)

// ErrNotFound is returned when no audit entry exists for a ticket.
var ErrNotFound = errors.New("audit: entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id  TEXT NOT NULL,
	ticket_id    TEXT NOT NULL,
	department   TEXT NOT NULL,
	confidence   REAL NOT NULL,
	method       TEXT NOT NULL,
	payload      TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_ticket ON decisions(ticket_id);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
`

// Logger appends routing decisions to an on-disk journal. Writes go
// through a buffered channel so the hot path never blocks on sqlite; a
// full buffer drops the entry and counts the drop instead.
type Logger struct {
	db      *sql.DB
	entries chan models.RoutingDecision
	dropped atomic.Uint64
	onDrop  func()
	logger  *slog.Logger

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// Options tunes the journal. Zero values get sensible defaults.
type Options struct {
	BufferSize int
	Logger     *slog.Logger

	// OnDrop is invoked once per entry lost to a full buffer. Optional.
	OnDrop func()
}

// NewLogger opens (or creates) the journal at path. Use ":memory:" for
// an ephemeral journal in tests.
func NewLogger(path string, opts Options) (*Logger, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	// A single connection keeps the writer goroutine and the read path
	// from tripping sqlite's file locking.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}

	l := &Logger{
		db:      db,
		entries: make(chan models.RoutingDecision, opts.BufferSize),
		onDrop:  opts.OnDrop,
		logger:  opts.Logger,
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Log enqueues a decision for persistence. It never blocks; when the
// buffer is full the entry is dropped and counted.
func (l *Logger) Log(decision models.RoutingDecision) {
	select {
	case l.entries <- decision:
	default:
		n := l.dropped.Add(1)
		if l.onDrop != nil {
			l.onDrop()
		}
		l.logger.Warn("audit buffer full, entry dropped",
			slog.String("ticket_id", decision.TicketID),
			slog.Uint64("dropped_total", n))
	}
}

// Dropped reports how many entries were lost to a full buffer.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// LatestForTicket returns the most recent decision recorded for a
// ticket, rebuilt from the stored payload.
func (l *Logger) LatestForTicket(ctx context.Context, ticketID string) (models.RoutingDecision, error) {
	var payload string
	err := l.db.QueryRowContext(ctx,
		`SELECT payload FROM decisions WHERE ticket_id = ? ORDER BY id DESC LIMIT 1`,
		ticketID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RoutingDecision{}, ErrNotFound
	}
	if err != nil {
		return models.RoutingDecision{}, fmt.Errorf("audit: query latest: %w", err)
	}
	var decision models.RoutingDecision
	if err := json.Unmarshal([]byte(payload), &decision); err != nil {
		return models.RoutingDecision{}, fmt.Errorf("audit: decode payload: %w", err)
	}
	return decision, nil
}

// Close stops accepting entries, drains the buffer to disk, and closes
// the journal.
func (l *Logger) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.entries)
	l.closeMu.Unlock()

	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for decision := range l.entries {
		if err := l.persist(decision); err != nil {
			l.logger.Error("audit write failed",
				slog.String("ticket_id", decision.TicketID),
				slog.Any("error", err))
			continue
		}
		l.logger.Info("decision recorded",
			slog.String("decision_id", decision.DecisionID),
			slog.String("ticket_id", decision.TicketID),
			slog.String("department", decision.Department),
			slog.String("method", string(decision.Method)),
			slog.Float64("confidence", decision.Confidence),
			slog.Bool("needs_human_review", decision.NeedsHumanReview))
	}
}

func (l *Logger) persist(decision models.RoutingDecision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	_, err = l.db.Exec(
		`INSERT INTO decisions (decision_id, ticket_id, department, confidence, method, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		decision.DecisionID, decision.TicketID, decision.Department,
		decision.Confidence, string(decision.Method), string(payload), decision.CreatedAt,
	)
	return err
}
