// Package sink provides the per-discussion diagnostic log and live event
// fan-out. Both are fire-and-forget: failures never reach orchestration
// control flow, and slow subscribers drop events rather than block a round.
package sink

import (
	"sync"
	"time"
)

// Log levels.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEntry is one append-only diagnostic record for a discussion.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   Level          `json:"level"`
	Source  string         `json:"source"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Event types emitted to live spectators.
type EventType string

const (
	EventTurnStart     EventType = "turn-start"
	EventChunk         EventType = "chunk"
	EventTurnEnd       EventType = "turn-end"
	EventSearchStart   EventType = "search-start"
	EventSearchEnd     EventType = "search-end"
	EventRoundComplete EventType = "round-complete"
	EventError         EventType = "error"
)

// Event is one live notification for a discussion.
type Event struct {
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	Time    time.Time      `json:"time"`
}

const (
	maxLogEntries = 500
	subBuffer     = 64
)

// Sink holds per-discussion logs and event subscribers.
type Sink struct {
	mu      sync.RWMutex
	logs    map[string][]LogEntry
	subs    map[string]map[int]chan Event
	nextSub int
}

// New creates an empty Sink.
func New() *Sink {
	return &Sink{
		logs: make(map[string][]LogEntry),
		subs: make(map[string]map[int]chan Event),
	}
}

// Log appends a diagnostic entry for the discussion. The log is bounded;
// oldest entries are dropped past maxLogEntries.
func (s *Sink) Log(discussionID string, level Level, source, message string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.logs[discussionID], LogEntry{
		Time:    time.Now(),
		Level:   level,
		Source:  source,
		Message: message,
		Details: details,
	})
	if len(entries) > maxLogEntries {
		entries = entries[len(entries)-maxLogEntries:]
	}
	s.logs[discussionID] = entries
}

// Logs returns a copy of the discussion's log entries.
func (s *Sink) Logs(discussionID string) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[discussionID]
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out
}

// Clear discards the discussion's log entries.
func (s *Sink) Clear(discussionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, discussionID)
}

// Emit delivers an event to every live subscriber of the discussion.
// Delivery is non-blocking: a full subscriber buffer drops the event.
func (s *Sink) Emit(discussionID string, typ EventType, payload map[string]any) {
	ev := Event{Type: typ, Payload: payload, Time: time.Now()}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs[discussionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a live listener for the discussion. The returned cancel
// func unregisters it and closes the channel.
func (s *Sink) Subscribe(discussionID string) (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[discussionID] == nil {
		s.subs[discussionID] = make(map[int]chan Event)
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subBuffer)
	s.subs[discussionID][id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[discussionID][id]; ok {
			delete(s.subs[discussionID], id)
			close(sub)
		}
	}
	return ch, cancel
}
