package transport

import (
	"sync"
	"time"

	"github.com/danmuck/spellctl/internal/protocol"
)

type result struct {
	msg protocol.Message
	err error
}

// pendingCall tracks one request awaiting a reply with the same sequence.
type pendingCall struct {
	Sequence uint64
	ID       string
	SentAt   time.Time
	done     chan result
}

// pendingTable stores in-flight requests by sequence.
type pendingTable struct {
	mu    sync.Mutex
	items map[uint64]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items: make(map[uint64]*pendingCall),
	}
}

func (p *pendingTable) Add(seq uint64, id string, at time.Time) *pendingCall {
	call := &pendingCall{
		Sequence: seq,
		ID:       id,
		SentAt:   at,
		done:     make(chan result, 1),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[seq] = call
	return call
}

// Take removes and returns the call registered under seq. It reports false
// for orphaned replies.
func (p *pendingTable) Take(seq uint64) (*pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.items[seq]
	if ok {
		delete(p.items, seq)
	}
	return call, ok
}

// Resolve completes the call registered under msg's sequence.
func (p *pendingTable) Resolve(msg protocol.Message) bool {
	call, ok := p.Take(msg.Sequence())
	if !ok {
		return false
	}
	call.done <- result{msg: msg}
	return true
}

// Remove drops seq and reports whether it was still pending.
func (p *pendingTable) Remove(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.items[seq]
	delete(p.items, seq)
	return ok
}

// FailAll completes every pending call with errFor(call) and empties the table.
func (p *pendingTable) FailAll(errFor func(*pendingCall) error) int {
	p.mu.Lock()
	calls := p.items
	p.items = make(map[uint64]*pendingCall)
	p.mu.Unlock()
	for _, call := range calls {
		call.done <- result{err: errFor(call)}
	}
	return len(calls)
}

func (p *pendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
