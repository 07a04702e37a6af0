package models

// State is the composed context for one turn: merged provider values, a
// free-form data area, and the assembled context text. The invariant
// values["providers"] == Text holds after every composition.
type State struct {
	Values map[string]any `json:"values"`
	Data   map[string]any `json:"data"`
	Text   string         `json:"text"`
}

// NewState returns an empty state with initialised maps.
func NewState() *State {
	return &State{
		Values: make(map[string]any),
		Data:   make(map[string]any),
	}
}

// WorkingMemory returns the bounded per-turn action-result history carried
// in Data, creating it on first use.
func (s *State) WorkingMemory() map[string]WorkingMemoryEntry {
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	wm, ok := s.Data["workingMemory"].(map[string]WorkingMemoryEntry)
	if !ok {
		wm = make(map[string]WorkingMemoryEntry)
		s.Data["workingMemory"] = wm
	}
	return wm
}

// ProviderResult is the three-part output of a context provider.
type ProviderResult struct {
	Values map[string]any `json:"values,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Text   string         `json:"text,omitempty"`
}
