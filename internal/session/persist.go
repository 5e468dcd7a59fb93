package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mnemo-ai/mnemo/internal/fault"
)

// On-disk layout under the storage dir:
//
//	sessions/<session_id>.json
//	messages/<session_id>/<message_id>.json
//	archive/<YYYY-MM-DD>/sessions/<session_id>.json
//	archive/<YYYY-MM-DD>/messages/<session_id>/
//
// Messages live one file each, independent of the session record, so a
// corrupt message file can never take the session record down with it.

func sessionPath(dir, sessionID string) string {
	return filepath.Join(dir, "sessions", sessionID+".json")
}

func messageDir(dir, sessionID string) string {
	return filepath.Join(dir, "messages", sessionID)
}

func messagePath(dir, sessionID, messageID string) string {
	return filepath.Join(messageDir(dir, sessionID), messageID+".json")
}

func archiveDir(dir string, when time.Time) string {
	return filepath.Join(dir, "archive", when.UTC().Format("2006-01-02"))
}

// writeJSONAtomic persists v with a write-to-temp-then-rename discipline so
// a crash mid-write never leaves a half-written record visible to readers.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.FromWriteError("mkdir "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fault.FromWriteError("create temp for "+path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fault.FromWriteError("write "+path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fault.FromWriteError("fsync "+path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fault.FromWriteError("close "+path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fault.FromWriteError("rename "+path, err)
	}
	// Persist the directory entry as well; best-effort on filesystems
	// that do not support fsync on directories.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func loadMessage(path string) (Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Message{}, fmt.Errorf("message file %s: %w", filepath.Base(path), fault.ErrNotFound)
		}
		return Message{}, fmt.Errorf("read %s: %w", path, err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fault.Corruptionf("decode %s", filepath.Base(path))
	}
	return m, nil
}

// legacyFieldNames maps pre-v2 session record keys to their current names.
// The rename happens exactly once, at load time; read paths never consult
// legacy names.
var legacyFieldNames = map[string]string{
	"id":          "session_id",
	"chat_key":    "conversation_key",
	"messages":    "message_ids",
	"seq":         "sequence_counter",
	"tokens":      "total_tokens",
	"last_active": "last_active_at",
}

// decodeSessionRecord parses a session record, migrating legacy records to
// the current schema version first.
func decodeSessionRecord(data []byte) (Session, error) {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Session{}, fault.Corruptionf("decode session record")
	}

	if probe.SchemaVersion < schemaVersion {
		migrated, err := migrateLegacyRecord(data)
		if err != nil {
			return Session{}, err
		}
		data = migrated
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fault.Corruptionf("decode session record")
	}
	if s.ID == "" || s.ConversationKey == "" {
		return Session{}, fault.Corruptionf("session record missing identity")
	}
	s.SchemaVersion = schemaVersion
	if s.MessageIDs == nil {
		s.MessageIDs = []string{}
	}
	return s, nil
}

func migrateLegacyRecord(data []byte) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fault.Corruptionf("decode legacy session record")
	}
	for old, current := range legacyFieldNames {
		v, ok := raw[old]
		if !ok {
			continue
		}
		if _, exists := raw[current]; !exists {
			raw[current] = v
		}
		delete(raw, old)
	}
	migrated, err := json.Marshal(raw)
	if err != nil {
		return nil, fault.Corruptionf("re-encode migrated session record")
	}
	return migrated, nil
}

func loadSessionFile(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("read %s: %w", path, err)
	}
	return decodeSessionRecord(data)
}

// relocateToColdStorage moves a session record and its message directory
// into the dated archive location. Best-effort: the first failure is
// returned for logging but the session is never resurrected.
func relocateToColdStorage(dir, sessionID string, when time.Time) error {
	root := archiveDir(dir, when)
	if err := os.MkdirAll(filepath.Join(root, "sessions"), 0o755); err != nil {
		return fault.FromWriteError("mkdir archive", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "messages"), 0o755); err != nil {
		return fault.FromWriteError("mkdir archive", err)
	}

	src := sessionPath(dir, sessionID)
	if err := os.Rename(src, filepath.Join(root, "sessions", sessionID+".json")); err != nil && !os.IsNotExist(err) {
		return fault.FromWriteError("relocate session record", err)
	}
	msgSrc := messageDir(dir, sessionID)
	if err := os.Rename(msgSrc, filepath.Join(root, "messages", sessionID)); err != nil && !os.IsNotExist(err) {
		return fault.FromWriteError("relocate message files", err)
	}
	return nil
}
