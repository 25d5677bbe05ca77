package sessions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dohr-michael/echovision/internal/config"
)

func sampleSnapshot(id string, savedAt time.Time) *Snapshot {
	h := NewHistory(1000)
	h.now = func() time.Time { return savedAt }
	h.Append("paint a watercolor of a harbour", "Here it is. ")
	h.Append("thanks", "Anytime!")
	return h.Snapshot(id)
}

// exerciseStore runs the behaviour every SnapshotStore must share.
func exerciseStore(t *testing.T, store SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Load(ctx, "missing")
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if got != nil {
		t.Fatal("Load missing: expected nil snapshot")
	}

	older := sampleSnapshot("older", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	newer := sampleSnapshot("newer", time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))
	for _, s := range []*Snapshot{older, newer} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save %s: %v", s.SessionID, err)
		}
	}

	got, err = store.Load(ctx, "older")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.MessageCount != 2 || len(got.Turns) != 2 {
		t.Fatalf("Load = %+v", got)
	}
	if got.Turns[0].User != "paint a watercolor of a harbour" || got.TotalTokens != older.TotalTokens {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Summary != older.Summary {
		t.Errorf("summary = %q, want %q", got.Summary, older.Summary)
	}

	// Overwrite keeps a single entry.
	older.Summary = "updated"
	if err := store.Save(ctx, older); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}
	if list[0].SessionID != "newer" || list[1].SessionID != "older" {
		t.Errorf("List order = %s, %s", list[0].SessionID, list[1].SessionID)
	}
	if list[1].Summary != "updated" {
		t.Errorf("overwrite lost: %q", list[1].Summary)
	}

	if err := store.Delete(ctx, "older"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "older"); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	if got, _ := store.Load(ctx, "older"); got != nil {
		t.Error("snapshot present after delete")
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conversations")
	store := NewFileStore(dir)
	exerciseStore(t, store)

	// One JSON file per session.
	if _, err := os.Stat(filepath.Join(dir, "newer.json")); err != nil {
		t.Errorf("expected newer.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "newer.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestFileStore_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(dir)
	if err := store.Save(context.Background(), sampleSnapshot("good", time.Now())); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].SessionID != "good" {
		t.Errorf("List = %v", list)
	}
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Save(context.Background(), &Snapshot{SessionID: "../escape"}); err == nil {
		t.Error("expected invalid id error")
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "db", "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, time.Hour)
	defer store.Close()

	exerciseStore(t, store)

	if ttl := mr.TTL(redisKeyPrefix + "newer"); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := DialRedisStore(context.Background(), "redis://"+mr.Addr()+"/0", time.Minute)
	if err != nil {
		t.Fatalf("DialRedisStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Save(ctx, sampleSnapshot("ephemeral", time.Now())); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	got, err := store.Load(ctx, "ephemeral")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Error("snapshot should have expired")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := OpenStore(ctx, config.SessionsConfig{Driver: "file", Dir: dir})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, ok := fs.(*FileStore); !ok {
		t.Errorf("file driver gave %T", fs)
	}

	mem, err := OpenStore(ctx, config.SessionsConfig{Driver: "memory"})
	if err != nil || mem != nil {
		t.Errorf("memory driver = %v, %v; want nil, nil", mem, err)
	}

	sq, err := OpenStore(ctx, config.SessionsConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "s.db")})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	sq.Close()

	if _, err := OpenStore(ctx, config.SessionsConfig{Driver: "etcd"}); err == nil {
		t.Error("expected unknown driver error")
	}
}
