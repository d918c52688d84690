package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal", "trades.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestRecordAndRecent(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Kind: "send_letter", Peer: "ana", Status: "executed", At: base},
		{Kind: "send_package", Peer: "ana", Resources: map[string]int{"madera": 1}, Expected: map[string]int{"trigo": 1}, Status: "executed", At: base.Add(time.Minute)},
		{Kind: "send_package", Peer: "luis", Resources: map[string]int{"madera": 9}, Status: "rejected", Error: "insufficient stock", At: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent length = %d, want 2", len(recent))
	}
	if recent[0].Peer != "luis" || recent[0].Status != "rejected" || recent[0].Resources["madera"] != 9 {
		t.Errorf("newest = %+v", recent[0])
	}
	if recent[1].Expected["trigo"] != 1 || !recent[1].At.Equal(base.Add(time.Minute)) {
		t.Errorf("second = %+v", recent[1])
	}
	if recent[0].Reward >= 0 {
		t.Errorf("rejection reward = %v, want negative", recent[0].Reward)
	}
}

func TestPeerStats(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	for _, e := range []Entry{
		{Kind: "send_letter", Peer: "ana", Status: "executed"},
		{Kind: "send_letter", Peer: "ana", Status: "executed"},
		{Kind: "send_package", Peer: "ana", Status: "executed"},
		{Kind: "send_letter", Peer: "luis", Status: "rejected", Error: "placeholder text"},
		{Kind: "no_action", Status: "noop"},
	} {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	stats, err := s.PeerStats(ctx)
	if err != nil {
		t.Fatalf("PeerStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v, want 2 peers", stats)
	}
	ana, luis := stats[0], stats[1]
	if ana.Peer != "ana" || ana.Letters != 2 || ana.Packages != 1 || ana.Rejections != 0 {
		t.Errorf("ana = %+v", ana)
	}
	if luis.Peer != "luis" || luis.Rejections != 1 || luis.Score >= 0 {
		t.Errorf("luis = %+v", luis)
	}
	if ana.Score <= luis.Score {
		t.Errorf("ana score %v should beat luis %v", ana.Score, luis.Score)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	s, path := openTemp(t)
	if err := s.Record(context.Background(), Entry{Kind: "send_letter", Peer: "ana", Status: "executed"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM outcomes WHERE peer = 'ana'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("Open with empty path should fail")
	}
}

func TestScoreOutcome(t *testing.T) {
	t.Parallel()

	if ScoreOutcome("executed", "") <= ScoreOutcome("noop", "") {
		t.Error("executed should score above noop")
	}
	if ScoreOutcome("rejected", "below quota") >= ScoreOutcome("rejected", "") {
		t.Error("quota rejection should cost more")
	}
}
