package ocpp

import (
	"context"
	"encoding/json"
	"sync"
)

// PendingCall is an outbound CALL waiting for its CALLRESULT or CALLERROR.
type PendingCall struct {
	UniqueId string
	Action   string
	Payload  json.RawMessage
	done     chan struct{}
	result   json.RawMessage
	err      error
}

// Done is closed once the call has been resolved or rejected.
func (p *PendingCall) Done() <-chan struct{} {
	return p.done
}

// Result is valid after Done is closed.
func (p *PendingCall) Result() (json.RawMessage, error) {
	return p.result, p.err
}

// Wait blocks until the call completes or ctx is cancelled.
func (p *PendingCall) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PendingTable correlates outstanding CALLs with their responses by message id.
type PendingTable struct {
	mutex sync.Mutex
	calls map[string]*PendingCall
}

func NewPendingTable() *PendingTable {
	return &PendingTable{calls: make(map[string]*PendingCall)}
}

func (t *PendingTable) Register(uniqueId, action string, payload json.RawMessage) (*PendingCall, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, ok := t.calls[uniqueId]; ok {
		return nil, ErrDuplicateId
	}
	call := &PendingCall{
		UniqueId: uniqueId,
		Action:   action,
		Payload:  payload,
		done:     make(chan struct{}),
	}
	t.calls[uniqueId] = call
	return call, nil
}

// Resolve completes the matching call; unknown ids return false.
func (t *PendingTable) Resolve(uniqueId string, payload json.RawMessage) (*PendingCall, bool) {
	call, ok := t.take(uniqueId)
	if !ok {
		return nil, false
	}
	call.result = payload
	close(call.done)
	return call, true
}

// Reject fails the matching call; unknown ids return false.
func (t *PendingTable) Reject(uniqueId string, err error) (*PendingCall, bool) {
	call, ok := t.take(uniqueId)
	if !ok {
		return nil, false
	}
	call.err = err
	close(call.done)
	return call, true
}

// RejectAll fails every outstanding call and returns how many were pending.
func (t *PendingTable) RejectAll(err error) int {
	t.mutex.Lock()
	calls := t.calls
	t.calls = make(map[string]*PendingCall)
	t.mutex.Unlock()
	for _, call := range calls {
		call.err = err
		close(call.done)
	}
	return len(calls)
}

func (t *PendingTable) Get(uniqueId string) (*PendingCall, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	call, ok := t.calls[uniqueId]
	return call, ok
}

func (t *PendingTable) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.calls)
}

func (t *PendingTable) take(uniqueId string) (*PendingCall, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	call, ok := t.calls[uniqueId]
	if ok {
		delete(t.calls, uniqueId)
	}
	return call, ok
}
