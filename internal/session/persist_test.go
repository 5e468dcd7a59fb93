package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/fault"
)

func mustParseTime(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t.Fatalf("parse time %q: %v", v, err)
	}
	return ts
}

func TestDecodeSessionRecordCurrentSchema(t *testing.T) {
	in := Session{
		SchemaVersion:   schemaVersion,
		ID:              "s-1",
		ConversationKey: "chat:a",
		MessageIDs:      []string{"m1", "m2"},
		SequenceCounter: 7,
		TotalTokens:     42,
	}
	data, _ := json.Marshal(in)

	out, err := decodeSessionRecord(data)
	if err != nil {
		t.Fatalf("decodeSessionRecord() error = %v", err)
	}
	if out.ID != in.ID || out.SequenceCounter != 7 || out.TotalTokens != 42 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestDecodeSessionRecordMigratesLegacyFields(t *testing.T) {
	legacy := []byte(`{
		"id": "s-legacy",
		"chat_key": "chat:old",
		"messages": ["m1", "m2", "m3"],
		"seq": 9,
		"tokens": 123,
		"created_at": "2024-01-02T03:04:05Z",
		"last_active": "2024-01-02T04:04:05Z"
	}`)

	s, err := decodeSessionRecord(legacy)
	if err != nil {
		t.Fatalf("decodeSessionRecord() error = %v", err)
	}
	if s.ID != "s-legacy" || s.ConversationKey != "chat:old" {
		t.Fatalf("identity not migrated: %+v", s)
	}
	if s.SequenceCounter != 9 || s.TotalTokens != 123 {
		t.Fatalf("counters not migrated: %+v", s)
	}
	if len(s.MessageIDs) != 3 {
		t.Fatalf("message ids not migrated: %+v", s.MessageIDs)
	}
	if s.LastActiveAt.IsZero() {
		t.Fatalf("last_active not migrated")
	}
	if s.SchemaVersion != schemaVersion {
		t.Fatalf("SchemaVersion = %d, want %d", s.SchemaVersion, schemaVersion)
	}
}

func TestDecodeSessionRecordPrefersCurrentFieldOverLegacy(t *testing.T) {
	mixed := []byte(`{"session_id": "s-new", "id": "s-old", "conversation_key": "chat:a"}`)
	s, err := decodeSessionRecord(mixed)
	if err != nil {
		t.Fatalf("decodeSessionRecord() error = %v", err)
	}
	if s.ID != "s-new" {
		t.Fatalf("ID = %q, want the current field to win", s.ID)
	}
}

func TestDecodeSessionRecordRejectsGarbage(t *testing.T) {
	for _, in := range []string{"{not json", `"just a string"`, `{"schema_version": 2}`} {
		if _, err := decodeSessionRecord([]byte(in)); !errors.Is(err, fault.ErrCorruption) {
			t.Fatalf("decodeSessionRecord(%q) error = %v, want ErrCorruption", in, err)
		}
	}
}

func TestWriteJSONAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")

	if err := writeJSONAtomic(path, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("writeJSONAtomic() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "record.json" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil || out["k"] != "v" {
		t.Fatalf("bad content %q, err %v", data, err)
	}
}

func TestRelocateToColdStorageMovesRecords(t *testing.T) {
	dir := t.TempDir()
	st := openTestStore(t, dir, 10)
	s, _ := st.GetOrCreate("chat:a")
	id := mustAppend(t, st, s.ID, "user", "one", 1000)
	st.Close()

	when := mustParseTime(t, "2025-03-04T05:06:07Z")
	if err := relocateToColdStorage(dir, s.ID, when); err != nil {
		t.Fatalf("relocateToColdStorage() error = %v", err)
	}

	if _, err := os.Stat(sessionPath(dir, s.ID)); !os.IsNotExist(err) {
		t.Fatalf("session record still in live location: %v", err)
	}
	archived := filepath.Join(dir, "archive", "2025-03-04", "sessions", s.ID+".json")
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("session record not in cold storage: %v", err)
	}
	archivedMsg := filepath.Join(dir, "archive", "2025-03-04", "messages", s.ID, id+".json")
	if _, err := os.Stat(archivedMsg); err != nil {
		t.Fatalf("message file not in cold storage: %v", err)
	}
}
