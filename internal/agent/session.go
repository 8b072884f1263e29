package agent

import (
	"sync"

	"github.com/sweetmill/sweetmill/pkg/provider/llm"
)

// Session holds the state of one conversation: the append-only message
// transcript sent to the model and the cumulative tool audit log. A Session
// belongs to a single user conversation; the orchestrator appends to it but
// never rewrites history.
//
// Safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	messages []llm.Message
	audit    []AuditEntry
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// Append adds messages to the end of the transcript.
func (s *Session) Append(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the transcript in order.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.messages...)
}

// Len returns the number of transcript messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// AppendAudit adds entries to the audit log.
func (s *Session) AppendAudit(entries ...AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entries...)
}

// Audit returns a copy of the audit log in invocation order.
func (s *Session) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}

// Reset clears the transcript and the audit log, starting the conversation
// over.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.audit = nil
}
