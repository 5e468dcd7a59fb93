// Package session implements the short-term conversation store: one record
// per live conversation, an ordered window of message references under a
// token budget, durable JSON persistence, and startup recovery.
//
// Concurrency model: every session has one lane (a per-session mutex) that
// serializes all mutations for that session_id. The global index mapping
// conversation_key to session_id has its own lock, held only for the brief
// index mutation step.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/mnemo-ai/mnemo/internal/fault"
	"github.com/mnemo-ai/mnemo/internal/protocol"
	"github.com/mnemo-ai/mnemo/internal/tokens"
)

// TokenCounter estimates the token cost of message content. Satisfied by
// tokens.Counter.
type TokenCounter interface {
	Count(text string) int
}

// minRetained is the hard floor of messages kept by pruning. Pruning never
// drops the window below this, even when a single message alone exceeds
// the budget; a temporary overrun beats destroying recent context.
const minRetained = 2

type liveSession struct {
	mu sync.Mutex // the per-session lane

	s Session
	// tokensByID caches per-message token counts so pruning does not have
	// to reload message files for counts it has already seen.
	tokensByID map[string]int
}

// Store owns the live session index and all session/message persistence.
// Construct one at process start and pass it by reference; there are no
// package-level registries.
type Store struct {
	dir     string
	counter TokenCounter
	publish protocol.Publisher

	mu     sync.Mutex
	index  map[string]string       // conversation_key -> session_id
	live   map[string]*liveSession // session_id -> state
	closed bool

	inflight sync.WaitGroup

	recoverySkipped int
}

// Open recovers all durable session records under dir and returns a store
// with the live index rebuilt from the sessions that loaded successfully.
// Unparsable records are skipped, never fatal.
func Open(dir string, counter TokenCounter, publish protocol.Publisher) (*Store, error) {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if publish == nil {
		publish = func(protocol.Event) {}
	}
	for _, sub := range []string{"sessions", "messages", "archive"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fault.FromWriteError("prepare storage dir", err)
		}
	}

	st := &Store{
		dir:     dir,
		counter: counter,
		publish: publish,
		index:   make(map[string]string),
		live:    make(map[string]*liveSession),
	}
	if err := st.recover(); err != nil {
		return nil, err
	}
	return st, nil
}

// recover loads every session record from disk and rebuilds the index.
// A corrupt record is logged and skipped; its conversation key simply gets
// a fresh session on next contact.
func (st *Store) recover() error {
	entries, err := os.ReadDir(filepath.Join(st.dir, "sessions"))
	if err != nil {
		return fmt.Errorf("scan sessions dir: %w", err)
	}

	loaded, skipped := 0, 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(st.dir, "sessions", name)
		s, err := loadSessionFile(path)
		if err != nil {
			log.Printf("session: recovery skipping %s: %v", name, err)
			skipped++
			continue
		}

		// Verify referenced message files. A gap is a warning, not an
		// error; history loads tolerate the hole.
		for _, id := range s.MessageIDs {
			if _, err := os.Stat(messagePath(st.dir, s.ID, id)); err != nil {
				log.Printf("session: %s references missing message %s", s.ID, id)
			}
		}

		// Two records claiming the same conversation key: keep the most
		// recently active one in the index. Both stay loaded for audit.
		if prevID, ok := st.index[s.ConversationKey]; ok {
			if prev := st.live[prevID]; prev != nil && prev.s.LastActiveAt.After(s.LastActiveAt) {
				st.live[s.ID] = newLiveSession(s)
				loaded++
				continue
			}
		}
		st.live[s.ID] = newLiveSession(s)
		st.index[s.ConversationKey] = s.ID
		loaded++
	}

	if loaded == 0 && skipped == 0 {
		log.Printf("session: recovery found no persisted sessions")
	} else {
		log.Printf("session: recovery loaded %d sessions, skipped %d corrupt", loaded, skipped)
	}
	st.recoverySkipped = skipped
	return nil
}

// RecoverySkippedCount reports how many durable records the startup
// recovery skipped as corrupt.
func (st *Store) RecoverySkippedCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.recoverySkipped
}

func newLiveSession(s Session) *liveSession {
	return &liveSession{s: s, tokensByID: make(map[string]int)}
}

// GetOrCreate returns the live session for a conversation key, minting a
// new one when the key is unknown. Idempotent for concurrent callers.
func (st *Store) GetOrCreate(conversationKey string) (Session, error) {
	key := strings.TrimSpace(conversationKey)
	if key == "" {
		return Session{}, fault.Validationf("empty conversation key")
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return Session{}, fault.Unavailablef("store is shutting down")
	}
	if id, ok := st.index[key]; ok {
		if ls, ok := st.live[id]; ok {
			st.mu.Unlock()
			ls.mu.Lock()
			defer ls.mu.Unlock()
			return cloneSession(&ls.s), nil
		}
	}

	now := time.Now().UTC()
	s := Session{
		SchemaVersion:   schemaVersion,
		ID:              uuid.NewString(),
		ConversationKey: key,
		MessageIDs:      []string{},
		CreatedAt:       now,
		LastActiveAt:    now,
	}
	ls := newLiveSession(s)
	ls.mu.Lock()
	st.live[s.ID] = ls
	st.index[key] = s.ID
	st.mu.Unlock()
	defer ls.mu.Unlock()

	if err := writeJSONAtomic(sessionPath(st.dir, s.ID), &ls.s); err != nil {
		st.mu.Lock()
		delete(st.live, s.ID)
		delete(st.index, key)
		st.mu.Unlock()
		return Session{}, fmt.Errorf("persist new session: %w", err)
	}
	log.Printf("session: created %s for conversation %q", s.ID, key)
	return cloneSession(&ls.s), nil
}

// Lookup returns the live session for a conversation key without creating
// one.
func (st *Store) Lookup(conversationKey string) (Session, error) {
	st.mu.Lock()
	id, ok := st.index[strings.TrimSpace(conversationKey)]
	st.mu.Unlock()
	if !ok {
		return Session{}, fmt.Errorf("conversation %q: %w", conversationKey, fault.ErrNotFound)
	}
	return st.Get(id)
}

// Append durably persists a message, adds it to the session window, prunes
// to the caller's token budget and persists the session metadata. Returns
// the new message id.
func (st *Store) Append(ctx context.Context, sessionID string, req AppendRequest, tokenBudget int) (string, error) {
	role, err := ParseRole(req.Role)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Content) == "" {
		log.Printf("session: %s append with empty content", sessionID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return "", fault.Unavailablef("store is shutting down")
	}
	ls, ok := st.live[sessionID]
	if !ok {
		st.mu.Unlock()
		return "", fmt.Errorf("session %s: %w", sessionID, fault.ErrNotFound)
	}
	st.inflight.Add(1)
	st.mu.Unlock()
	defer st.inflight.Done()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	now := time.Now().UTC()
	next := ls.s.SequenceCounter + 1
	m := Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		OrderNum:  next,
		Role:      role,
		Content:   req.Content,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Timestamp: now,
		Tokens:    st.counter.Count(req.Content),
	}

	// Message first: the sequence counter only advances once the message
	// is durable, so committed order_num values stay gap-free.
	if err := writeJSONAtomic(messagePath(st.dir, sessionID, m.ID), &m); err != nil {
		return "", fmt.Errorf("persist message: %w", err)
	}

	ls.s.SequenceCounter = next
	ls.s.MessageIDs = append(ls.s.MessageIDs, m.ID)
	ls.s.TotalTokens += m.Tokens
	ls.s.LastActiveAt = now
	ls.tokensByID[m.ID] = m.Tokens

	pruned := st.prune(ls, tokenBudget)

	if err := writeJSONAtomic(sessionPath(st.dir, sessionID), &ls.s); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}

	st.publish(protocol.Event{
		Type:            protocol.TypeMessageAppended,
		SessionID:       sessionID,
		ConversationKey: ls.s.ConversationKey,
		MessageID:       m.ID,
		TotalTokens:     ls.s.TotalTokens,
		At:              now,
	})
	if pruned > 0 {
		st.publish(protocol.Event{
			Type:            protocol.TypeSessionPruned,
			SessionID:       sessionID,
			ConversationKey: ls.s.ConversationKey,
			PrunedCount:     pruned,
			TotalTokens:     ls.s.TotalTokens,
			At:              now,
		})
	}
	return m.ID, nil
}

// prune evicts oldest message references until the window fits the budget
// or hits the retention floor. Evicted message files stay on disk; only
// the references go. Caller holds the lane.
func (st *Store) prune(ls *liveSession, budget int) int {
	if budget <= 0 {
		return 0
	}
	pruned := 0
	for ls.s.TotalTokens > budget && len(ls.s.MessageIDs) > minRetained {
		oldest := ls.s.MessageIDs[0]
		cost, ok := ls.tokensByID[oldest]
		if !ok {
			cost = st.loadTokenCost(ls.s.ID, oldest)
		}
		ls.s.MessageIDs = ls.s.MessageIDs[1:]
		ls.s.TotalTokens -= cost
		delete(ls.tokensByID, oldest)
		pruned++
	}
	if ls.s.TotalTokens < 0 {
		// Can only happen when a referenced message file went missing and
		// its cost was reconstructed as zero. Clamp and move on.
		ls.s.TotalTokens = 0
	}
	return pruned
}

// loadTokenCost reloads a cached token count from the message file, for
// sessions recovered from disk whose cache is cold. A missing file costs
// zero; the gap was already warned about at recovery.
func (st *Store) loadTokenCost(sessionID, messageID string) int {
	m, err := loadMessage(messagePath(st.dir, sessionID, messageID))
	if err != nil {
		log.Printf("session: %s token cost unavailable for %s: %v", sessionID, messageID, err)
		return 0
	}
	return m.Tokens
}

// History returns the last maxMessages turns of the active window, oldest
// first. maxMessages <= 0 means all. Missing message files are skipped
// with a warning; the call returns the partial result.
func (st *Store) History(sessionID string, maxMessages int) ([]HistoryEntry, error) {
	ls, err := st.lane(sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	ids := append([]string(nil), ls.s.MessageIDs...)
	ls.mu.Unlock()

	if maxMessages > 0 && maxMessages < len(ids) {
		ids = ids[len(ids)-maxMessages:]
	}

	entries := make([]HistoryEntry, 0, len(ids))
	for _, id := range ids {
		m, err := loadMessage(messagePath(st.dir, sessionID, id))
		if err != nil {
			log.Printf("session: history gap in %s: %v", sessionID, err)
			continue
		}
		entries = append(entries, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return entries, nil
}

// FullHistory loads every message the session has ever referenced that is
// still in its message directory, ordered by order_num. Used by archival,
// which transfers the whole conversation, not just the active window.
func (st *Store) FullHistory(sessionID string) ([]Message, error) {
	dir := messageDir(st.dir, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan message dir: %w", err)
	}

	msgs := make([]Message, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		m, err := loadMessage(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Printf("session: full history gap in %s: %v", sessionID, err)
			continue
		}
		msgs = append(msgs, m)
	}
	sortMessages(msgs)
	return msgs, nil
}

// Clear empties the active window while preserving session identity and
// the sequence counter. Message files are untouched. Clearing an unknown
// or already-clear session is a no-op.
func (st *Store) Clear(sessionID string) error {
	ls, err := st.lane(sessionID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil
		}
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if len(ls.s.MessageIDs) == 0 && ls.s.TotalTokens == 0 {
		return nil
	}
	ls.s.MessageIDs = []string{}
	ls.s.TotalTokens = 0
	ls.s.LastActiveAt = time.Now().UTC()
	ls.tokensByID = make(map[string]int)

	if err := writeJSONAtomic(sessionPath(st.dir, sessionID), &ls.s); err != nil {
		return fmt.Errorf("persist cleared session: %w", err)
	}
	st.publish(protocol.Event{
		Type:            protocol.TypeSessionCleared,
		SessionID:       sessionID,
		ConversationKey: ls.s.ConversationKey,
		At:              ls.s.LastActiveAt,
	})
	return nil
}

// Get returns a snapshot of a live session.
func (st *Store) Get(sessionID string) (Session, error) {
	ls, err := st.lane(sessionID)
	if err != nil {
		return Session{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return cloneSession(&ls.s), nil
}

// IdleBefore returns snapshots of sessions whose last activity is at or
// before the cutoff.
func (st *Store) IdleBefore(cutoff time.Time) []Session {
	st.mu.Lock()
	lanes := make([]*liveSession, 0, len(st.live))
	for _, ls := range st.live {
		lanes = append(lanes, ls)
	}
	st.mu.Unlock()

	var idle []Session
	for _, ls := range lanes {
		ls.mu.Lock()
		if !ls.s.LastActiveAt.After(cutoff) {
			idle = append(idle, cloneSession(&ls.s))
		}
		ls.mu.Unlock()
	}
	return idle
}

// Detach removes a session from the live index and cache so the next
// GetOrCreate for its conversation key mints a fresh session. It waits for
// the session's lane to go quiet first. Detaching an already-detached
// session is a no-op.
func (st *Store) Detach(sessionID string) {
	st.mu.Lock()
	ls, ok := st.live[sessionID]
	st.mu.Unlock()
	if !ok {
		return
	}

	// Let any in-flight append on this lane finish before the session
	// disappears from the index.
	ls.mu.Lock()
	key := ls.s.ConversationKey
	ls.mu.Unlock()

	st.mu.Lock()
	if st.index[key] == sessionID {
		delete(st.index, key)
	}
	delete(st.live, sessionID)
	st.mu.Unlock()
}

// MoveToColdStorage relocates the session's durable records into the dated
// archive location. Call after Detach; failure is the caller's to log and
// never re-inserts the session into the live index.
func (st *Store) MoveToColdStorage(sessionID string, when time.Time) error {
	return relocateToColdStorage(st.dir, sessionID, when)
}

// ActiveCount returns the number of live sessions.
func (st *Store) ActiveCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.live)
}

// Close stops accepting appends and drains the ones in flight.
func (st *Store) Close() {
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
	st.inflight.Wait()
}

func (st *Store) lane(sessionID string) (*liveSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, fault.Unavailablef("store is shutting down")
	}
	ls, ok := st.live[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, fault.ErrNotFound)
	}
	return ls, nil
}

func sortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].OrderNum < msgs[j].OrderNum })
}
