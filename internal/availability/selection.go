package availability

import "sync"

// Selection tracks the slot a user has picked, bound to the (doctor, date)
// context it was picked under. Changing either clears the pick, so a slot id
// from a previous grid can never be submitted against a new one.
type Selection struct {
	mu       sync.Mutex
	doctorID string
	date     string
	slotID   string
}

// SetContext switches the active (doctor, date) pair. Any change invalidates
// the current slot selection.
func (s *Selection) SetContext(doctorID, date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doctorID != doctorID || s.date != date {
		s.slotID = ""
	}
	s.doctorID = doctorID
	s.date = date
}

// Select records a slot pick for the current context.
func (s *Selection) Select(slotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotID = slotID
}

// SlotID returns the current pick, or "" when nothing valid is selected.
func (s *Selection) SlotID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotID
}

// Clear drops the pick without touching the context.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotID = ""
}

// Sessions with no selection activity are cheap, so the store only bounds
// itself against runaway growth, resetting wholesale past this many.
const maxSelections = 512

// SelectionStore keeps one Selection per portal session. Browsing the grid
// sets the context, picking a slot records it, and booking consumes it.
type SelectionStore struct {
	mu   sync.Mutex
	byID map[string]*Selection
}

func NewSelectionStore() *SelectionStore {
	return &SelectionStore{byID: make(map[string]*Selection)}
}

func (s *SelectionStore) selection(sessionID string) *Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.byID[sessionID]
	if !ok {
		if len(s.byID) >= maxSelections {
			s.byID = make(map[string]*Selection)
		}
		sel = &Selection{}
		s.byID[sessionID] = sel
	}
	return sel
}

// SetContext switches a session's (doctor, date) pair, clearing its pick on
// any change.
func (s *SelectionStore) SetContext(sessionID, doctorID, date string) {
	s.selection(sessionID).SetContext(doctorID, date)
}

// Select records a session's slot pick for its current context.
func (s *SelectionStore) Select(sessionID, slotID string) {
	s.selection(sessionID).Select(slotID)
}

// SlotID returns a session's current pick, or "" when nothing is selected.
func (s *SelectionStore) SlotID(sessionID string) string {
	return s.selection(sessionID).SlotID()
}

// Clear drops a session's pick.
func (s *SelectionStore) Clear(sessionID string) {
	s.selection(sessionID).Clear()
}
