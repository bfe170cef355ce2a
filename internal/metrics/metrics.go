package metrics

import "sync"

// Slot holds counters for one credential slot.
type Slot struct {
	Attempts int `json:"attempts"`
	Failures int `json:"failures"`
}

// Snapshot is a point-in-time copy of Rotation.
type Snapshot struct {
	Slots     map[int]Slot `json:"slots"`
	Exhausted int          `json:"exhausted"`
	Fragments int          `json:"fragments"`
}

// Rotation counts upstream attempts per credential slot. It is observational
// only; routing never reads it.
type Rotation struct {
	mu        sync.Mutex
	slots     map[int]Slot
	exhausted int
	fragments int
}

func NewRotation() *Rotation {
	return &Rotation{slots: make(map[int]Slot)}
}

// Attempt records one upstream attempt on slot index; err marks it failed.
func (r *Rotation) Attempt(index int, err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[index]
	s.Attempts++
	if err != nil {
		s.Failures++
	}
	r.slots[index] = s
}

// Exhausted records a request for which every credential failed.
func (r *Rotation) Exhausted() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted++
}

// AddFragments records n text fragments relayed to a client.
func (r *Rotation) AddFragments(n int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragments += n
}

func (r *Rotation) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Snapshot{Slots: make(map[int]Slot, len(r.slots)), Exhausted: r.exhausted, Fragments: r.fragments}
	for k, v := range r.slots {
		out.Slots[k] = v
	}
	return out
}
