package domain

import "slices"

// SelectionSet stages chosen candidate slots per track before a commit. The zero value
// is ready to use. It is not safe for concurrent use.
type SelectionSet struct {
	tracks map[TrackID]*trackSelection
	order  []TrackID
}

type trackSelection struct {
	slots map[SlotKey]CandidateSlot
	order []SlotKey
}

func NewSelectionSet() *SelectionSet {
	return &SelectionSet{}
}

// keyIn returns the slot's identity key within track, whatever TrackID the slot carries.
func keyIn(track TrackID, slot CandidateSlot) (SlotKey, CandidateSlot) {
	slot.TrackID = track
	return slot.Key(), slot
}

func (s *SelectionSet) track(id TrackID) *trackSelection {
	if s.tracks == nil {
		s.tracks = make(map[TrackID]*trackSelection)
	}
	t, ok := s.tracks[id]
	if !ok {
		t = &trackSelection{slots: make(map[SlotKey]CandidateSlot)}
		s.tracks[id] = t
		s.order = append(s.order, id)
	}
	return t
}

// dropIfEmpty forgets a track with no selected slots so that toggling a slot on and off
// leaves no trace.
func (s *SelectionSet) dropIfEmpty(id TrackID) {
	t, ok := s.tracks[id]
	if !ok || len(t.slots) > 0 {
		return
	}
	delete(s.tracks, id)
	s.order = slices.DeleteFunc(s.order, func(o TrackID) bool { return o == id })
}

// Toggle adds slot to track if it is absent and removes it otherwise. It returns whether
// the slot is selected afterwards.
func (s *SelectionSet) Toggle(track TrackID, slot CandidateSlot) bool {
	key, slot := keyIn(track, slot)
	t := s.track(track)
	if _, ok := t.slots[key]; ok {
		delete(t.slots, key)
		t.order = slices.DeleteFunc(t.order, func(k SlotKey) bool { return k == key })
		s.dropIfEmpty(track)
		return false
	}
	t.slots[key] = slot
	t.order = append(t.order, key)
	return true
}

// SelectAll adds every candidate to track, keeping existing selections.
func (s *SelectionSet) SelectAll(track TrackID, candidates []CandidateSlot) {
	if len(candidates) == 0 {
		return
	}
	t := s.track(track)
	for _, c := range candidates {
		key, c := keyIn(track, c)
		if _, ok := t.slots[key]; ok {
			continue
		}
		t.slots[key] = c
		t.order = append(t.order, key)
	}
}

// Clear empties track; other tracks are untouched.
func (s *SelectionSet) Clear(track TrackID) {
	t, ok := s.tracks[track]
	if !ok {
		return
	}
	clear(t.slots)
	t.order = nil
	s.dropIfEmpty(track)
}

func (s *SelectionSet) IsSelected(track TrackID, slot CandidateSlot) bool {
	t, ok := s.tracks[track]
	if !ok {
		return false
	}
	key, _ := keyIn(track, slot)
	_, ok = t.slots[key]
	return ok
}

// TotalSelected counts selected slots across all tracks. A commit requires at least one.
func (s *SelectionSet) TotalSelected() int {
	n := 0
	for _, t := range s.tracks {
		n += len(t.slots)
	}
	return n
}

// Tracks returns the tracks holding at least one selection, in first-selection order.
func (s *SelectionSet) Tracks() []TrackID {
	return slices.Clone(s.order)
}

// Selected returns the slots selected for track in selection order.
func (s *SelectionSet) Selected(track TrackID) []CandidateSlot {
	t, ok := s.tracks[track]
	if !ok {
		return nil
	}
	out := make([]CandidateSlot, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.slots[k])
	}
	return out
}

// All returns every selected slot, grouped by track in track order.
func (s *SelectionSet) All() []CandidateSlot {
	out := make([]CandidateSlot, 0, s.TotalSelected())
	for _, id := range s.order {
		out = append(out, s.Selected(id)...)
	}
	return out
}
