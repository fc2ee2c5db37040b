package world

// slotQueue holds slot identities in FIFO order. The owning Pool serialises
// access, so the queue carries no lock of its own.
type slotQueue struct {
	pending []SlotID
}

func newSlotQueue(capacity int) *slotQueue {
	return &slotQueue{pending: make([]SlotID, 0, capacity)}
}

func (q *slotQueue) Enqueue(id SlotID) {
	q.pending = append(q.pending, id)
}

// Drain removes up to max slots from the front of the queue. A max of zero
// or less drains everything.
func (q *slotQueue) Drain(max int) []SlotID {
	if len(q.pending) == 0 {
		return nil
	}
	if max <= 0 || max >= len(q.pending) {
		batch := append([]SlotID(nil), q.pending...)
		q.pending = q.pending[:0]
		return batch
	}
	batch := append([]SlotID(nil), q.pending[:max]...)
	q.pending = append(q.pending[:0], q.pending[max:]...)
	return batch
}

func (q *slotQueue) Len() int {
	return len(q.pending)
}

func (q *slotQueue) Snapshot() []SlotID {
	return append([]SlotID(nil), q.pending...)
}
