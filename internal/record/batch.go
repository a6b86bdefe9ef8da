package record

import "github.com/google/uuid"

// Batch is an ordered sequence of Records assembled by the batcher.
// Ownership is exclusive: the batcher owns it until handoff to the
// export controller, which owns it until a terminal state. Nothing
// mutates a Batch after handoff.
type Batch struct {
	// ID identifies the batch in logs and retry bookkeeping.
	ID string
	// Records preserve enqueue order.
	Records []*Record
}

// NewBatch wraps records in a Batch. The slice is owned by the batch
// from this point on.
func NewBatch(records []*Record) *Batch {
	return &Batch{
		ID:      uuid.NewString(),
		Records: records,
	}
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Split halves the batch into two new batches, preserving order.
// Used when a backend rejects the payload as too large.
func (b *Batch) Split() (*Batch, *Batch) {
	mid := len(b.Records) / 2
	return NewBatch(b.Records[:mid]), NewBatch(b.Records[mid:])
}
