// Package journal records interception events to SQLite so they can be
// inspected after the process that produced them is gone.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/msgtap/intercept"
	"github.com/chazu/msgtap/manifest"
	"github.com/chazu/msgtap/stream"
	"github.com/chazu/msgtap/vm"
)

var log = commonlog.GetLogger("msgtap.journal")

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

const schema = `
CREATE TABLE IF NOT EXISTS streams (
	id           TEXT PRIMARY KEY,
	attached_at  INTEGER NOT NULL,
	completed_at INTEGER
);
CREATE TABLE IF NOT EXISTS events (
	id       TEXT PRIMARY KEY,
	stream   TEXT NOT NULL REFERENCES streams(id),
	selector TEXT NOT NULL,
	seq      INTEGER NOT NULL,
	record   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS events_selector ON events(selector);
`

// Journal is an append-only event store.
type Journal struct {
	db        *sql.DB
	path      string
	arguments bool

	mu     sync.Mutex
	subs   map[uuid.UUID]stream.Disposable
	err    error
	closed bool
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("journal: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database: %w", err)
	}
	// Events are written on the caller's goroutine; one connection keeps
	// them in order and avoids lock contention inside SQLite.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: creating tables: %w", err)
	}

	log.Debugf("opened journal %s", path)
	return &Journal{
		db:        db,
		path:      path,
		arguments: true,
		subs:      make(map[uuid.UUID]stream.Disposable),
	}, nil
}

// OpenConfig opens the journal configured in c. It returns nil, nil when
// journaling is off.
func OpenConfig(c *manifest.Config) (*Journal, error) {
	path := c.JournalPath()
	if path == "" {
		return nil, nil
	}
	j, err := Open(path)
	if err != nil {
		return nil, err
	}
	j.arguments = c.JournalArguments()
	return j, nil
}

// Watch intercepts sel on obj with e and attaches the resulting stream. The
// stream captures arguments unless the journal was configured without them.
func (j *Journal) Watch(e *intercept.Engine, obj *vm.Object, sel vm.Selector) (stream.Disposable, error) {
	var sig *stream.Signal[intercept.Event]
	if j.arguments {
		sig = e.ArgumentStream(obj, sel)
	} else {
		sig = e.TriggerStream(obj, sel)
	}
	return j.Attach(sig)
}

// Attach records every event sent on sig until it completes, the returned
// Disposable is disposed or the journal is closed.
func (j *Journal) Attach(sig *stream.Signal[intercept.Event]) (stream.Disposable, error) {
	id := sig.ID()
	sub := &attachment{journal: j, id: id}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := j.subs[id]; ok {
		j.mu.Unlock()
		return nil, fmt.Errorf("journal: stream %s already attached", id)
	}
	j.subs[id] = sub
	j.mu.Unlock()

	if _, err := j.db.Exec(
		"INSERT OR IGNORE INTO streams (id, attached_at) VALUES (?, ?)",
		id.String(), time.Now().UnixNano(),
	); err != nil {
		sub.Dispose()
		return nil, fmt.Errorf("journal: attaching stream: %w", err)
	}

	// Observing a completed signal completes on this goroutine.
	sub.set(sig.Observe(func(ev intercept.Event) {
		j.record(id, ev)
	}, func() {
		j.complete(id)
	}))
	return sub, nil
}

func (j *Journal) record(id uuid.UUID, ev intercept.Event) {
	r := newRecord(id, ev)
	data, err := MarshalRecord(r)
	if err == nil {
		_, err = j.db.Exec(
			"INSERT INTO events (id, stream, selector, seq, record) VALUES (?, ?, ?, ?, ?)",
			r.ID.String(), id.String(), r.Selector, int64(r.Seq), data,
		)
	}
	if err != nil {
		j.fail(fmt.Errorf("journal: recording %s#%s seq %d: %w", r.Class, r.Selector, r.Seq, err))
	}
}

func (j *Journal) complete(id uuid.UUID) {
	if _, err := j.db.Exec(
		"UPDATE streams SET completed_at = ? WHERE id = ? AND completed_at IS NULL",
		time.Now().UnixNano(), id.String(),
	); err != nil {
		j.fail(fmt.Errorf("journal: completing stream %s: %w", id, err))
	}
	j.mu.Lock()
	delete(j.subs, id)
	j.mu.Unlock()
}

func (j *Journal) fail(err error) {
	log.Errorf("%v", err)
	j.mu.Lock()
	if j.err == nil {
		j.err = err
	}
	j.mu.Unlock()
}

// Err returns the first write error, if any. Observers cannot return errors,
// so failed writes are logged and remembered here.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Events returns the recorded events for selector in recording order.
func (j *Journal) Events(selector string) ([]*Record, error) {
	rows, err := j.db.Query("SELECT record FROM events WHERE selector = ? ORDER BY rowid", selector)
	if err != nil {
		return nil, fmt.Errorf("journal: querying events: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("journal: scanning event: %w", err)
		}
		r, err := UnmarshalRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: reading events: %w", err)
	}
	return records, nil
}

// Completed returns true if the stream with the given id has completed.
func (j *Journal) Completed(id uuid.UUID) (bool, error) {
	var at sql.NullInt64
	err := j.db.QueryRow("SELECT completed_at FROM streams WHERE id = ?", id.String()).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("journal: unknown stream %s", id)
	}
	if err != nil {
		return false, fmt.Errorf("journal: querying stream: %w", err)
	}
	return at.Valid, nil
}

// Close detaches every stream and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	subs := j.subs
	j.subs = nil
	j.mu.Unlock()

	for _, s := range subs {
		s.Dispose()
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: closing %s: %w", j.path, err)
	}
	return nil
}

// attachment detaches one stream from the journal.
type attachment struct {
	journal *Journal
	id      uuid.UUID

	mu       sync.Mutex
	inner    stream.Disposable
	disposed bool
}

func (a *attachment) set(d stream.Disposable) {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		d.Dispose()
		return
	}
	a.inner = d
	a.mu.Unlock()
}

func (a *attachment) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	inner := a.inner
	a.mu.Unlock()

	if inner != nil {
		inner.Dispose()
	}
	j := a.journal
	j.mu.Lock()
	if j.subs != nil {
		delete(j.subs, a.id)
	}
	j.mu.Unlock()
}
