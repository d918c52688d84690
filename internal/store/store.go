// Package store journals trade outcomes to SQLite and keeps per-peer
// counters derived from them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one journaled action outcome.
type Entry struct {
	Kind      string
	Peer      string
	Resources map[string]int
	Expected  map[string]int
	Status    string
	Error     string
	Reason    string
	At        time.Time
	Reward    float64
}

// PeerStat aggregates the journal for one peer.
type PeerStat struct {
	Peer       string
	Letters    int
	Packages   int
	Rejections int
	Score      float64
	LastSeen   time.Time
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the journal at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty journal path")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			peer TEXT NOT NULL,
			resources_json TEXT NOT NULL,
			expected_json TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL,
			reason TEXT NOT NULL,
			reward REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS outcomes_peer ON outcomes(peer);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends e. A zero At is stamped with the current time and the
// reward is scored from the status when not already set.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.Reward == 0 {
		e.Reward = ScoreOutcome(e.Status, e.Error)
	}
	resources, err := encodeResources(e.Resources)
	if err != nil {
		return err
	}
	expected, err := encodeResources(e.Expected)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outcomes (at, kind, peer, resources_json, expected_json, status, error, reason, reward)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Kind, strings.TrimSpace(e.Peer), resources, expected,
		e.Status, strings.TrimSpace(e.Error), strings.TrimSpace(e.Reason), e.Reward,
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, peer, resources_json, expected_json, status, error, reason, reward
		 FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			at        string
			resources string
			expected  string
		)
		if err := rows.Scan(&at, &e.Kind, &e.Peer, &resources, &expected, &e.Status, &e.Error, &e.Reason, &e.Reward); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Resources = decodeResources(resources)
		e.Expected = decodeResources(expected)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PeerStats summarizes the journal per peer, ordered by alias. Outcomes
// without a peer are left out.
func (s *Store) PeerStats(ctx context.Context) ([]PeerStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT peer,
			SUM(CASE WHEN kind = 'send_letter' AND status = 'executed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'send_package' AND status = 'executed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END),
			SUM(reward),
			MAX(at)
		FROM outcomes
		WHERE peer <> ''
		GROUP BY peer
		ORDER BY peer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeerStat
	for rows.Next() {
		var (
			p    PeerStat
			last string
		)
		if err := rows.Scan(&p.Peer, &p.Letters, &p.Packages, &p.Rejections, &p.Score, &last); err != nil {
			return nil, err
		}
		p.LastSeen, _ = time.Parse(time.RFC3339Nano, last)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ScoreOutcome rewards executed actions and penalizes rejections, more so
// when the rejection came from a broken model response.
func ScoreOutcome(status, errMsg string) float64 {
	score := -0.1
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "executed":
		score = 0.8
	case "noop":
		score = 0.1
	case "dropped":
		score = -0.3
	case "rejected":
		score = -0.7
	}
	errLower := strings.ToLower(strings.TrimSpace(errMsg))
	if errLower == "" {
		return score
	}
	if strings.Contains(errLower, "placeholder") || strings.Contains(errLower, "not a map") {
		score -= 0.4
	}
	if strings.Contains(errLower, "insufficient") || strings.Contains(errLower, "below quota") {
		score -= 0.2
	}
	return score
}

func encodeResources(r map[string]int) (string, error) {
	if len(r) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeResources(raw string) map[string]int {
	out := map[string]int{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
