package iotcc

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/sanket-mindstix/liota/pkg/promise"
)

type pendingRequest struct {
	txID    string
	expects []string
	cell    *promise.Cell[response]
}

// tracker pairs responses with outstanding requests. A response carrying a
// transactionID completes that request only; one without completes the
// oldest request expecting its type.
type tracker struct {
	session string

	mu      sync.Mutex
	seq     uint64
	pending []*pendingRequest
}

func newTracker() *tracker {
	return &tracker{session: uuid.NewString()[:8]}
}

func (t *tracker) nextID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return formatTxID(t.session, t.seq)
}

// await registers a request and returns the cell its response completes.
func (t *tracker) await(txID string, expects ...string) *promise.Cell[response] {
	req := &pendingRequest{txID: txID, expects: expects, cell: promise.New[response]()}

	t.mu.Lock()
	t.pending = append(t.pending, req)
	t.mu.Unlock()
	return req.cell
}

func (t *tracker) forget(txID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = slices.DeleteFunc(t.pending, func(p *pendingRequest) bool { return p.txID == txID })
}

// resolve completes the request resp answers and reports whether one was
// found.
func (t *tracker) resolve(resp response) bool {
	t.mu.Lock()
	var idx int
	if resp.TransactionID != "" {
		idx = slices.IndexFunc(t.pending, func(p *pendingRequest) bool { return p.txID == string(resp.TransactionID) })
	} else {
		idx = slices.IndexFunc(t.pending, func(p *pendingRequest) bool { return slices.Contains(p.expects, resp.Type) })
	}
	if idx < 0 {
		t.mu.Unlock()
		return false
	}
	req := t.pending[idx]
	t.pending = slices.Delete(t.pending, idx, idx+1)
	t.mu.Unlock()

	req.cell.Resolve(resp)
	return true
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
