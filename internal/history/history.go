// Package history keeps the capped, newest-first list of evaluated transactions.
package history

import (
	"github.com/mbd888/secureflow/internal/scoring"
)

// DefaultCapacity is the maximum number of results retained.
const DefaultCapacity = 500

// History is a bounded ring of results iterated newest first.
// Inserting into a full history evicts the oldest result.
//
// History is not safe for concurrent use; the stream scheduler serializes access.
type History struct {
	buf  []*scoring.TransactionResult
	head int // index of the newest result
	size int
}

// New creates a history retaining at most capacity results.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{buf: make([]*scoring.TransactionResult, capacity), head: -1}
}

// Insert prepends a result, dropping the oldest beyond capacity.
func (h *History) Insert(r *scoring.TransactionResult) {
	h.head = (h.head + 1) % len(h.buf)
	h.buf[h.head] = r
	if h.size < len(h.buf) {
		h.size++
	}
}

// Len returns the number of retained results.
func (h *History) Len() int {
	return h.size
}

// Cap returns the history capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// at returns the i-th newest result (0 = newest).
func (h *History) at(i int) *scoring.TransactionResult {
	return h.buf[(h.head-i+len(h.buf))%len(h.buf)]
}

// Each calls fn for each result, newest first, until fn returns false.
func (h *History) Each(fn func(*scoring.TransactionResult) bool) {
	for i := 0; i < h.size; i++ {
		if !fn(h.at(i)) {
			return
		}
	}
}

// List returns up to limit results, newest first. limit <= 0 means all.
func (h *History) List(limit int) []*scoring.TransactionResult {
	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*scoring.TransactionResult, n)
	for i := range out {
		out[i] = h.at(i)
	}
	return out
}

// Flagged returns up to limit flagged results, newest first. limit <= 0 means all.
func (h *History) Flagged(limit int) []*scoring.TransactionResult {
	var out []*scoring.TransactionResult
	h.Each(func(r *scoring.TransactionResult) bool {
		if r.Response.Flagged {
			out = append(out, r)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Find returns the result with the given transaction id.
func (h *History) Find(id string) (*scoring.TransactionResult, bool) {
	var found *scoring.TransactionResult
	h.Each(func(r *scoring.TransactionResult) bool {
		if r.ID() == id {
			found = r
			return false
		}
		return true
	})
	return found, found != nil
}

// Newest returns the most recent result, if any.
func (h *History) Newest() (*scoring.TransactionResult, bool) {
	if h.size == 0 {
		return nil, false
	}
	return h.at(0), true
}
