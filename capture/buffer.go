package capture

// RecordBuffer holds records that have been observed but not yet persisted.
// It is owned by a single session goroutine: appends happen between flushes,
// never during one, so the buffer needs no lock. Flushes are single-flight
// per session.
type RecordBuffer struct {
	pending []ChatRecord
}

// Append adds a record to the tail of the buffer. O(1), never fails.
func (b *RecordBuffer) Append(r ChatRecord) {
	b.pending = append(b.pending, r)
}

// Len reports the number of unpersisted records.
func (b *RecordBuffer) Len() int { return len(b.pending) }

// Drain returns the current contents in arrival order and empties the
// buffer. The caller owns the returned slice; on a failed sink write it must
// hand the slice back via Requeue so no record is lost.
func (b *RecordBuffer) Drain() []ChatRecord {
	rows := b.pending
	b.pending = nil
	return rows
}

// Requeue puts a failed drain back at the front of the buffer, ahead of
// anything appended since, preserving original arrival order.
func (b *RecordBuffer) Requeue(rows []ChatRecord) {
	if len(rows) == 0 {
		return
	}
	b.pending = append(rows, b.pending...)
}
