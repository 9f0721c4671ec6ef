// Package conversation implements the per-session Conversation State
// Machine (spec §4.3): fragment accumulation into a combined transcript,
// a checklist of dimensions still needed, a hard three-question cap, and
// reconnect migration that moves an in-flight capture from an old session
// to a new one. Grounded on original_source's gateway/conversation_state.py,
// rebuilt with the teacher's RWMutex-guarded-map-plus-registry idiom
// (internal/protocol/session.go's SessionManager) in place of the
// original's module-level dict singletons.
package conversation

import (
	"sync"
	"time"
)

// Phase is a Conversation State Machine phase (spec §4.3).
type Phase string

const (
	PhaseListening        Phase = "LISTENING"
	PhaseAccumulating     Phase = "ACCUMULATING"
	PhaseHeld             Phase = "HELD"
	PhaseResuming         Phase = "RESUMING"
	PhaseProcessing       Phase = "PROCESSING"
	PhaseApprovalPending  Phase = "APPROVAL_PENDING"
	PhaseExecuting        Phase = "EXECUTING"
	PhaseDone             Phase = "DONE"
)

const maxQuestions = 3

// Fragment is one accumulated user utterance.
type Fragment struct {
	Text       string
	Timestamp  time.Time
	SubIntents []string
	Confidence float64
}

// ChecklistItem tracks one dimension's known-or-missing value.
type ChecklistItem struct {
	Dimension string
	Value     string
	Source    string // user_said | digital_self | default
	Filled    bool
}

// State is the per-session conversation state — lives for one mandate
// lifecycle (spec §4.3).
type State struct {
	mu sync.Mutex

	SessionID     string
	UserID        string
	UserFirstName string

	Fragments          []Fragment
	CombinedTranscript string

	Checklist       []ChecklistItem
	QuestionsAsked  []string

	Phase Phase

	CreatedAt      time.Time
	LastFragmentAt time.Time
}

func newState(sessionID, userID, userFirstName string) *State {
	return &State{
		SessionID:     sessionID,
		UserID:        userID,
		UserFirstName: userFirstName,
		Phase:         PhaseListening,
		CreatedAt:     time.Now(),
	}
}

// AddFragment appends a new utterance fragment, rebuilds the combined
// transcript, and advances LISTENING → ACCUMULATING on the first fragment.
func (s *State) AddFragment(text string, subIntents []string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frag := Fragment{
		Text:       text,
		Timestamp:  time.Now(),
		SubIntents: subIntents,
		Confidence: confidence,
	}
	s.Fragments = append(s.Fragments, frag)
	s.LastFragmentAt = frag.Timestamp

	combined := ""
	for i, f := range s.Fragments {
		if i > 0 {
			combined += " "
		}
		combined += f.Text
	}
	s.CombinedTranscript = combined

	if s.Phase == PhaseListening {
		s.Phase = PhaseAccumulating
	}
}

// CanAskQuestion reports whether the three-question cap has not yet been
// reached (spec §4.3: "no more than 3 questions per mandate attempt").
func (s *State) CanAskQuestion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.QuestionsAsked) < maxQuestions
}

// RecordQuestion records that a clarifying question was asked.
func (s *State) RecordQuestion(question string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QuestionsAsked = append(s.QuestionsAsked, question)
}

// QuestionsRemaining returns how many of the three permitted questions
// are left.
func (s *State) QuestionsRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := maxQuestions - len(s.QuestionsAsked)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FillChecklist upserts a checklist entry for dimension.
func (s *State) FillChecklist(dimension, value, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Checklist {
		if s.Checklist[i].Dimension == dimension {
			s.Checklist[i].Value = value
			s.Checklist[i].Source = source
			s.Checklist[i].Filled = true
			return
		}
	}
	s.Checklist = append(s.Checklist, ChecklistItem{
		Dimension: dimension,
		Value:     value,
		Source:    source,
		Filled:    true,
	})
}

// Unfilled returns checklist items still lacking a value.
func (s *State) Unfilled() []ChecklistItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ChecklistItem
	for _, item := range s.Checklist {
		if !item.Filled {
			out = append(out, item)
		}
	}
	return out
}

// SecondsSinceLastFragment reports elapsed time since the last fragment,
// used to evaluate the 5-minute capture-close window (spec §4.3).
func (s *State) SecondsSinceLastFragment() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastFragmentAt.IsZero() {
		return 0
	}
	return time.Since(s.LastFragmentAt).Seconds()
}

// SetPhase transitions the state machine to phase.
func (s *State) SetPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = phase
}

func (s *State) currentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Phase
}

// Reset clears the state for a new mandate attempt on the same session.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fragments = nil
	s.CombinedTranscript = ""
	s.Checklist = nil
	s.QuestionsAsked = nil
	s.Phase = PhaseListening
	s.LastFragmentAt = time.Time{}
}

func (s *State) hasFragments() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Fragments) > 0
}

// Registry holds conversation states keyed by session ID, plus a
// userID→sessionID index used for reconnect migration (spec §4.3).
type Registry struct {
	mu          sync.Mutex
	bySession   map[string]*State
	byUser      map[string]string
}

// NewRegistry creates an empty conversation state registry.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]*State),
		byUser:    make(map[string]string),
	}
}

// GetOrCreate returns the conversation state for sessionID, creating one
// if absent, and records the userID→sessionID mapping for later migration.
func (r *Registry) GetOrCreate(sessionID, userID, userFirstName string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.bySession[sessionID]
	if !ok {
		st = newState(sessionID, userID, userFirstName)
		r.bySession[sessionID] = st
	}
	if userID != "" {
		r.byUser[userID] = sessionID
	}
	return st
}

// Migrate moves the active conversation state for userID from its old
// session to newSessionID, preserving fragments, checklist, question
// count, phase, and createdAt (spec §4.3 Reconnection migration). Returns
// true if a migration occurred. No-op if the user has no prior active
// session with at least one fragment, or the old session equals the new
// one.
func (r *Registry) Migrate(userID, newSessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldSessionID, ok := r.byUser[userID]
	if !ok || oldSessionID == newSessionID {
		return false
	}
	old, ok := r.bySession[oldSessionID]
	if !ok || !old.hasFragments() {
		return false
	}

	old.mu.Lock()
	migrated := &State{
		SessionID:          newSessionID,
		UserID:             userID,
		UserFirstName:      old.UserFirstName,
		Fragments:          old.Fragments,
		CombinedTranscript: old.CombinedTranscript,
		Checklist:          old.Checklist,
		QuestionsAsked:     old.QuestionsAsked,
		Phase:              old.Phase,
		CreatedAt:          old.CreatedAt,
		LastFragmentAt:     old.LastFragmentAt,
	}
	old.mu.Unlock()

	r.bySession[newSessionID] = migrated
	r.byUser[userID] = newSessionID
	delete(r.bySession, oldSessionID)
	return true
}

// ResetSession resets the conversation state for sessionID, if present.
func (r *Registry) ResetSession(sessionID string) {
	r.mu.Lock()
	st, ok := r.bySession[sessionID]
	r.mu.Unlock()
	if ok {
		st.Reset()
	}
}

// Cleanup removes the conversation state for sessionID entirely (e.g. on
// session termination).
func (r *Registry) Cleanup(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySession, sessionID)
}
