package world

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

var (
	// ErrNotInitialised is returned when a pool is used before Init.
	ErrNotInitialised = errors.New("chunk pool not initialised")
	// ErrInvariant marks a broken pool invariant. It is never recoverable.
	ErrInvariant = errors.New("chunk pool invariant violated")
	// ErrSlotRange is returned for slot identities outside the pool.
	ErrSlotRange = errors.New("slot out of range")
)

// SlotID identifies a pool slot in [0, N).
type SlotID int

type slotState uint8

const (
	slotReady slotState = iota
	slotPending
)

// Slot is a reusable unit of terrain bound to one grid offset at a time.
type Slot struct {
	ID     SlotID
	Offset Offset
	Dirty  bool
}

// Pool owns a fixed set of slots and reassigns them as the viewpoint moves so
// that they always cover the spiral pattern around the current centroid.
type Pool struct {
	mu        sync.RWMutex
	threshold float64
	host      ResourceHost
	logger    *log.Logger

	initialised bool
	centroid    Offset
	base        []Offset
	slots       []Slot
	states      []slotState
	actual      map[Offset]SlotID
	ready       *slotQueue
	pending     *slotQueue
}

// NewPool creates an uninitialised pool. threshold is the change threshold in
// grid cells; host may be nil when no render resources need moving.
func NewPool(threshold float64, host ResourceHost, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.New(log.Writer(), "chunk-pool ", log.LstdFlags|log.Lmicroseconds)
	}
	if threshold < 0 {
		threshold = 0
	}
	return &Pool{threshold: threshold, host: host, logger: logger}
}

// Init binds slot i to BasePattern[i]+centroid and marks every slot ready.
// Calling Init again discards the previous assignment.
func (p *Pool) Init(n int, centroid Offset) error {
	if n <= 0 {
		return fmt.Errorf("chunk count must be positive, got %d", n)
	}

	base := SpiralPattern(n)
	slots := make([]Slot, n)
	states := make([]slotState, n)
	actual := make(map[Offset]SlotID, n)
	ready := newSlotQueue(n)
	for i, rel := range base {
		id := SlotID(i)
		abs := rel.Add(centroid)
		if owner, ok := actual[abs]; ok {
			return fmt.Errorf("%w: offset %v claimed by slots %d and %d", ErrInvariant, abs, owner, id)
		}
		actual[abs] = id
		slots[i] = Slot{ID: id, Offset: abs}
		states[i] = slotReady
		ready.Enqueue(id)
	}

	p.mu.Lock()
	p.initialised = true
	p.centroid = centroid
	p.base = base
	p.slots = slots
	p.states = states
	p.actual = actual
	p.ready = ready
	p.pending = newSlotQueue(n)
	p.mu.Unlock()

	if p.host != nil {
		for _, slot := range slots {
			p.host.Place(slot.ID, slot.Offset)
		}
	}
	p.logger.Printf("initialised %d slots around %v", n, centroid)
	return nil
}

// Recenter moves the pool to cover the spiral pattern around the cell nearest
// viewpoint. It is a no-op while the viewpoint stays within the change
// threshold of the current centroid. The returned flag reports whether the
// assignment changed.
func (p *Pool) Recenter(viewpoint Float2) (Offset, bool, error) {
	p.mu.Lock()
	if !p.initialised {
		p.mu.Unlock()
		return Offset{}, false, ErrNotInitialised
	}
	if !viewpoint.Outside(p.centroid, p.threshold) {
		centroid := p.centroid
		p.mu.Unlock()
		return centroid, false, nil
	}

	next := SpiralPosition(SpiralIndex(viewpoint.Round()))
	if next == p.centroid {
		p.mu.Unlock()
		return next, false, nil
	}

	plan, err := p.planLocked(next)
	if err != nil {
		p.mu.Unlock()
		return p.centroid, false, err
	}
	previous := p.centroid
	p.commitLocked(plan)
	p.mu.Unlock()

	if p.host != nil {
		for _, mv := range plan.moved {
			p.host.Place(mv.id, mv.to)
		}
	}
	p.logger.Printf("recentered %v -> %v: moved %d, pending %d", previous, next, len(plan.moved), len(plan.pending))
	return next, true, nil
}

type slotMove struct {
	id SlotID
	to Offset
}

// recenterPlan is a complete replacement partition built before any pool
// state changes.
type recenterPlan struct {
	centroid Offset
	actual   map[Offset]SlotID
	offsets  []Offset
	states   []slotState
	ready    []SlotID
	pending  []SlotID
	moved    []slotMove
}

func (p *Pool) planLocked(next Offset) (recenterPlan, error) {
	n := len(p.slots)
	plan := recenterPlan{
		centroid: next,
		actual:   make(map[Offset]SlotID, n),
		offsets:  make([]Offset, n),
		states:   make([]slotState, n),
		ready:    make([]SlotID, 0, n),
		pending:  make([]SlotID, 0, n),
	}
	claimed := make([]bool, n)
	// Candidate cells that no current slot covers, in base-pattern order.
	var unmatched []int
	candidates := make([]Offset, n)

	for i, rel := range p.base {
		cand := rel.Add(next)
		candidates[i] = cand
		id, ok := p.actual[cand]
		if !ok {
			unmatched = append(unmatched, i)
			continue
		}
		if int(id) < 0 || int(id) >= n || claimed[id] {
			return recenterPlan{}, fmt.Errorf("%w: slot %d claimed twice", ErrInvariant, id)
		}
		claimed[id] = true
		plan.actual[cand] = id
		plan.offsets[id] = cand
		plan.states[id] = p.states[id]
	}

	leftovers := make([]SlotID, 0, len(unmatched))
	for id := range claimed {
		if !claimed[id] {
			leftovers = append(leftovers, SlotID(id))
		}
	}
	if len(leftovers) != len(unmatched) {
		return recenterPlan{}, fmt.Errorf("%w: %d leftover slots for %d unclaimed offsets", ErrInvariant, len(leftovers), len(unmatched))
	}

	for i, idx := range unmatched {
		id := leftovers[i]
		cand := candidates[idx]
		if owner, ok := plan.actual[cand]; ok {
			return recenterPlan{}, fmt.Errorf("%w: offset %v claimed by slots %d and %d", ErrInvariant, cand, owner, id)
		}
		plan.actual[cand] = id
		plan.offsets[id] = cand
		plan.states[id] = slotPending
		plan.moved = append(plan.moved, slotMove{id: id, to: cand})
	}

	for _, cand := range candidates {
		id := plan.actual[cand]
		if plan.states[id] == slotReady {
			plan.ready = append(plan.ready, id)
		} else {
			plan.pending = append(plan.pending, id)
		}
	}

	if len(plan.actual) != n {
		return recenterPlan{}, fmt.Errorf("%w: %d positions for %d slots", ErrInvariant, len(plan.actual), n)
	}
	if len(plan.ready)+len(plan.pending) != n {
		return recenterPlan{}, fmt.Errorf("%w: %d ready + %d pending for %d slots", ErrInvariant, len(plan.ready), len(plan.pending), n)
	}
	return plan, nil
}

func (p *Pool) commitLocked(plan recenterPlan) {
	p.centroid = plan.centroid
	p.actual = plan.actual
	for i := range p.slots {
		p.slots[i].Offset = plan.offsets[i]
		p.slots[i].Dirty = plan.states[i] == slotPending
	}
	p.states = plan.states
	p.ready = &slotQueue{pending: plan.ready}
	p.pending = &slotQueue{pending: plan.pending}
}

// DrainPending confirms up to budget pending slots, moving them to the ready
// set, and returns their offsets. The caller recomputes geometry for exactly
// these slots.
func (p *Pool) DrainPending(budget int) (map[Offset]SlotID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialised {
		return nil, ErrNotInitialised
	}
	changed := make(map[Offset]SlotID)
	if budget <= 0 {
		return changed, nil
	}
	queued := p.pending.Snapshot()
	if len(queued) > budget {
		queued = queued[:budget]
	}
	for _, id := range queued {
		if p.states[id] != slotPending {
			return nil, fmt.Errorf("%w: slot %d queued as pending in state %d", ErrInvariant, id, p.states[id])
		}
	}
	for _, id := range p.pending.Drain(budget) {
		slot := &p.slots[id]
		p.states[id] = slotReady
		slot.Dirty = false
		p.ready.Enqueue(id)
		changed[slot.Offset] = id
	}
	return changed, nil
}

// Centroid returns the cell the pool is currently centred on.
func (p *Pool) Centroid() Offset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.centroid
}

// BasePattern returns a copy of the relative offsets computed at Init.
func (p *Pool) BasePattern() []Offset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Offset(nil), p.base...)
}

// Positions returns a copy of the offset to slot mapping.
func (p *Pool) Positions() map[Offset]SlotID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[Offset]SlotID, len(p.actual))
	for o, id := range p.actual {
		out[o] = id
	}
	return out
}

// Slots returns a copy of every slot ordered by identity.
func (p *Pool) Slots() []Slot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Slot(nil), p.slots...)
}

// Slot returns a single slot.
func (p *Pool) Slot(id SlotID) (Slot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(p.slots) {
		return Slot{}, fmt.Errorf("slot %d: %w", id, ErrSlotRange)
	}
	return p.slots[id], nil
}

// Len is the fixed slot count, zero before Init.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots)
}

func (p *Pool) ReadyLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ready == nil {
		return 0
	}
	return p.ready.Len()
}

func (p *Pool) PendingLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pending == nil {
		return 0
	}
	return p.pending.Len()
}

// PendingOffsets lists the pending offsets in drain order.
func (p *Pool) PendingOffsets() []Offset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pending == nil {
		return nil
	}
	ids := p.pending.Snapshot()
	out := make([]Offset, len(ids))
	for i, id := range ids {
		out[i] = p.slots[id].Offset
	}
	return out
}

// ReadySlots returns the ready slots sorted by spiral distance from the
// centroid.
func (p *Pool) ReadySlots() []Slot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ready == nil {
		return nil
	}
	out := make([]Slot, 0, p.ready.Len())
	for _, id := range p.ready.Snapshot() {
		out = append(out, p.slots[id])
	}
	centroid := p.centroid
	sort.Slice(out, func(i, j int) bool {
		return SpiralIndex(out[i].Offset.Sub(centroid)) < SpiralIndex(out[j].Offset.Sub(centroid))
	})
	return out
}

// Verify checks every structural invariant of the pool.
func (p *Pool) Verify() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialised {
		return ErrNotInitialised
	}
	n := len(p.slots)
	if len(p.actual) != n {
		return fmt.Errorf("%w: %d positions for %d slots", ErrInvariant, len(p.actual), n)
	}
	if got := p.ready.Len() + p.pending.Len(); got != n {
		return fmt.Errorf("%w: %d queued slots for %d slots", ErrInvariant, got, n)
	}
	for o, id := range p.actual {
		if int(id) < 0 || int(id) >= n {
			return fmt.Errorf("%w: offset %v bound to slot %d", ErrInvariant, o, id)
		}
		if p.slots[id].Offset != o {
			return fmt.Errorf("%w: slot %d at %v but mapped from %v", ErrInvariant, id, p.slots[id].Offset, o)
		}
	}
	seen := make([]bool, n)
	check := func(q *slotQueue, want slotState) error {
		for _, id := range q.Snapshot() {
			if seen[id] {
				return fmt.Errorf("%w: slot %d queued twice", ErrInvariant, id)
			}
			seen[id] = true
			if p.states[id] != want {
				return fmt.Errorf("%w: slot %d queued in wrong partition", ErrInvariant, id)
			}
		}
		return nil
	}
	if err := check(p.ready, slotReady); err != nil {
		return err
	}
	return check(p.pending, slotPending)
}
