package pipeline

import "sync"

// ASet is the action-shape dimension set (spec §3, §4.9): what, who, when,
// where, how, constraints. A nil pointer means "not yet known", matching
// original_source's dimensions/engine.py Optional[str] fields.
type ASet struct {
	What        *string
	Who         *string
	When        *string
	Where       *string
	How         *string
	Constraints *string
}

// aSetFieldCount is the number of A-set fields used for completeness and
// missing-field reporting.
const aSetFieldCount = 6

// Completeness returns the fraction of A-set fields that are filled.
func (a ASet) Completeness() float64 {
	filled := 0
	for _, f := range []*string{a.What, a.Who, a.When, a.Where, a.How, a.Constraints} {
		if f != nil {
			filled++
		}
	}
	return float64(filled) / float64(aSetFieldCount)
}

// Missing returns the names of every unfilled A-set field, in the order
// spec §3 lists them.
func (a ASet) Missing() []string {
	var missing []string
	if a.What == nil {
		missing = append(missing, "what")
	}
	if a.Who == nil {
		missing = append(missing, "who")
	}
	if a.When == nil {
		missing = append(missing, "when")
	}
	if a.Where == nil {
		missing = append(missing, "where")
	}
	if a.How == nil {
		missing = append(missing, "how")
	}
	if a.Constraints == nil {
		missing = append(missing, "constraints")
	}
	return missing
}

// BSet is the cognitive-load dimension set (spec §3, §4.9), maintained as
// exponential moving averages rather than raw per-turn values.
type BSet struct {
	Urgency         float64
	EmotionalLoad   float64
	Ambiguity       float64
	Reversibility   float64
	UserConfidence  float64
}

// defaultBSet matches original_source's BSet field defaults: ambiguity
// starts low (only raised on evidence), reversibility starts fully
// reversible, confidence starts neutral.
func defaultBSet() BSet {
	return BSet{Reversibility: 1.0, UserConfidence: 0.5}
}

// StabilityBuffer smooths B-set updates with an exponential moving
// average (SPEC_FULL.md supplement 3), grounded on original_source's
// dimensions/engine.py StabilityBuffer.
type StabilityBuffer struct {
	alpha float64
}

// NewStabilityBuffer builds a buffer with the given smoothing factor.
func NewStabilityBuffer(alpha float64) StabilityBuffer {
	return StabilityBuffer{alpha: alpha}
}

// Update applies one EMA step: alpha*new + (1-alpha)*current.
func (b StabilityBuffer) Update(current, newValue float64) float64 {
	return b.alpha*newValue + (1-b.alpha)*current
}

// DimensionState is the per-session running dimension state the
// Dimension Extractor maintains across turns.
type DimensionState struct {
	AState    ASet
	BState    BSet
	TurnCount int
	buffer    StabilityBuffer
}

// NewDimensionState builds a fresh state with the default B-set and the
// standard alpha=0.3 stability buffer.
func NewDimensionState() *DimensionState {
	return &DimensionState{BState: defaultBSet(), buffer: NewStabilityBuffer(0.3)}
}

// aSetStrings lets a caller feed string-valued suggestions into the A-set
// without constructing *string values itself.
type aSetStrings struct {
	What, Who, When, Where, How, Constraints string
	HasWhat, HasWho, HasWhen, HasWhere, HasHow, HasConstraints bool
}

// ApplySuggestions folds one turn's A-set/B-set suggestions (from the
// Hypothesizer's DimensionSuggestions) into the running state, using EMA
// smoothing for B-set fields (spec §4.9).
func (d *DimensionState) ApplySuggestions(suggestions map[string]interface{}) {
	d.TurnCount++

	setStr := func(dst **string, key string) {
		if v, ok := suggestions[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				*dst = &s
			}
		}
	}
	setStr(&d.AState.What, "what")
	setStr(&d.AState.Who, "who")
	setStr(&d.AState.When, "when")
	setStr(&d.AState.Where, "where")
	setStr(&d.AState.How, "how")
	setStr(&d.AState.Constraints, "constraints")

	setEMA := func(dst *float64, key string) {
		if v, ok := suggestions[key]; ok {
			if f, ok := toFloat(v); ok {
				*dst = d.buffer.Update(*dst, f)
			}
		}
	}
	setEMA(&d.BState.Urgency, "urgency")
	setEMA(&d.BState.EmotionalLoad, "emotional_load")
	setEMA(&d.BState.Ambiguity, "ambiguity")
	setEMA(&d.BState.UserConfidence, "user_confidence")
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// IsStable reports whether the B-set is settled enough to permit a risky
// action (spec §4.9): urgency and emotional load both below threshold and
// at least two turns observed.
func (d *DimensionState) IsStable() bool {
	return d.BState.Urgency < 0.7 && d.BState.EmotionalLoad < 0.6 && d.TurnCount >= 2
}

// DimensionRegistry holds one DimensionState per session, grounded on
// original_source's module-level _sessions dict, generalized to a locked
// map matching this repo's other per-session registries (e.g.
// internal/conversation.Registry).
type DimensionRegistry struct {
	mu    sync.Mutex
	byID  map[string]*DimensionState
}

// NewDimensionRegistry builds an empty registry.
func NewDimensionRegistry() *DimensionRegistry {
	return &DimensionRegistry{byID: make(map[string]*DimensionState)}
}

// GetOrCreate returns sessionID's dimension state, creating it on first
// use.
func (r *DimensionRegistry) GetOrCreate(sessionID string) *DimensionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byID[sessionID]
	if !ok {
		st = NewDimensionState()
		r.byID[sessionID] = st
	}
	return st
}

// Cleanup removes sessionID's dimension state.
func (r *DimensionRegistry) Cleanup(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sessionID)
}
