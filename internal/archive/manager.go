// Package archive moves idle sessions out of the short-term store: their
// full history is handed to the long-term memory store and their durable
// records are relocated to dated cold storage.
package archive

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/protocol"
	"github.com/mnemo-ai/mnemo/internal/session"
)

// Manager runs the periodic idle-session sweep.
type Manager struct {
	sessions *session.Store
	memories *memory.LongTermStore

	idleTimeout time.Duration
	interval    time.Duration
	publish     protocol.Publisher

	scheduler gocron.Scheduler

	// onSweep, when set, observes each completed sweep (count, duration).
	onSweep func(archived int, elapsed time.Duration)

	cancel context.CancelFunc
	done   chan struct{}
}

// OnSweep registers an observer called after every sweep. Set before Start.
func (m *Manager) OnSweep(fn func(archived int, elapsed time.Duration)) {
	m.onSweep = fn
}

func NewManager(sessions *session.Store, memories *memory.LongTermStore, idleTimeout, interval time.Duration, publish protocol.Publisher) *Manager {
	if publish == nil {
		publish = func(protocol.Event) {}
	}
	return &Manager{
		sessions:    sessions,
		memories:    memories,
		idleTimeout: idleTimeout,
		interval:    interval,
		publish:     publish,
		done:        make(chan struct{}),
	}
}

// Start runs the startup sweep, then schedules the periodic one.
func (m *Manager) Start() error {
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	// Recover sessions left idle across a restart. Finding none is the
	// normal case, not an error.
	if n := m.Sweep(runCtx); n == 0 {
		log.Printf("archive: startup sweep found no idle sessions")
	} else {
		log.Printf("archive: startup sweep archived %d sessions", n)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		cancel()
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			select {
			case <-runCtx.Done():
				return
			default:
			}
			m.Sweep(runCtx)
		}),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	m.scheduler = scheduler
	scheduler.Start()
	log.Printf("archive: sweeping every %s, idle timeout %s", m.interval, m.idleTimeout)
	return nil
}

// Stop cancels the sweep and waits for an in-progress transfer to finish
// or cleanly abort before returning.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.scheduler != nil {
		if err := m.scheduler.Shutdown(); err != nil {
			log.Printf("archive: scheduler shutdown: %v", err)
		}
	}
}

// Sweep archives every session idle past the timeout and returns how many
// it archived. Idempotent; safe to call at startup and on a schedule.
func (m *Manager) Sweep(ctx context.Context) int {
	start := time.Now()
	cutoff := start.UTC().Add(-m.idleTimeout)
	idle := m.sessions.IdleBefore(cutoff)

	archived := 0
	for _, s := range idle {
		select {
		case <-ctx.Done():
			return archived
		default:
		}
		if err := m.archiveOne(ctx, s); err != nil {
			log.Printf("archive: session %s: %v", s.ID, err)
			continue
		}
		archived++
	}
	if m.onSweep != nil {
		m.onSweep(archived, time.Since(start))
	}
	return archived
}

// archiveOne transfers one expired session into long-term memory, frees
// its conversation key and relocates its files. The index removal
// happens-after the transfer attempt; a failed relocation is logged but
// never re-inserts the session into the live index.
func (m *Manager) archiveOne(ctx context.Context, s session.Session) error {
	history, err := m.sessions.FullHistory(s.ID)
	if err != nil {
		return fmt.Errorf("load full history: %w", err)
	}

	// Best-effort transfer: the conversation survives on disk in cold
	// storage even if long-term ingestion fails.
	if len(history) > 0 {
		transcript := renderTranscript(history)
		_, err := m.memories.Remember(ctx, transcript, memory.KindConversation, map[string]any{
			"conversation_key": s.ConversationKey,
			"session_id":       s.ID,
			"message_count":    len(history),
			"first_message_at": history[0].Timestamp.Format(time.RFC3339),
			"last_message_at":  history[len(history)-1].Timestamp.Format(time.RFC3339),
		})
		if err != nil {
			log.Printf("archive: transfer to long-term memory failed for %s: %v", s.ID, err)
		}
	}

	m.sessions.Detach(s.ID)

	now := time.Now().UTC()
	if err := m.sessions.MoveToColdStorage(s.ID, now); err != nil {
		log.Printf("archive: cold storage move failed for %s: %v", s.ID, err)
	}

	m.publish(protocol.Event{
		Type:            protocol.TypeSessionArchived,
		SessionID:       s.ID,
		ConversationKey: s.ConversationKey,
		At:              now,
	})
	log.Printf("archive: session %s (%s) archived after %s idle", s.ID, s.ConversationKey, now.Sub(s.LastActiveAt).Round(time.Second))
	return nil
}

// renderTranscript flattens the ordered history into the text handed to
// long-term ingestion. Summarization is an external collaborator's job;
// this core only guarantees the full ordered history is available.
func renderTranscript(history []session.Message) string {
	var b strings.Builder
	for _, msg := range history {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
