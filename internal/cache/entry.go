package cache

import "sync"

// Entry owns one cached response: the request fingerprint it was created
// for, and a response buffer that grows monotonically until Complete is
// called. It is the readiness coordinator described in the reference
// implementation's cache_entry_t — the mechanism that prevents a
// thundering herd of duplicate upstream fetches for the same fingerprint:
// exactly one producer task calls Append/Complete; every other interested
// party calls Subscribe and observes the same bytes incrementally.
type Entry struct {
	fingerprint []byte

	mu       sync.Mutex
	cond     *sync.Cond
	response []byte
	complete bool
	deleted  bool
}

// NewEntry creates an entry for fingerprint, taking ownership of an
// initial — possibly empty, possibly partial — response. The fingerprint
// bytes are copied so the caller's buffer can be reused or mutated freely.
func NewEntry(fingerprint []byte, initial []byte) *Entry {
	fp := make([]byte, len(fingerprint))
	copy(fp, fingerprint)

	resp := make([]byte, len(initial))
	copy(resp, initial)

	e := &Entry{
		fingerprint: fp,
		response:    resp,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Fingerprint returns the fingerprint this entry was created for. The
// returned slice must not be mutated by the caller.
func (e *Entry) Fingerprint() []byte {
	return e.fingerprint
}

// Append adds bytes to the response and wakes every blocked subscriber.
// Producer-only: callers must serialize their own Append/Complete calls
// (the coordinator assumes exactly one producer, matching the
// single-flight contract).
func (e *Entry) Append(b []byte) {
	e.mu.Lock()
	e.response = append(e.response, b...)
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Complete marks the response as fully received and wakes every blocked
// subscriber. Append must not be called after Complete.
func (e *Entry) Complete() {
	e.mu.Lock()
	e.complete = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// IsComplete reports whether Complete has been called.
func (e *Entry) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

// Subscribe returns the bytes appended since cursor, the subscriber's new
// cursor position, and whether the stream is exhausted (complete and fully
// drained). If no new bytes are available and the response is not yet
// complete, Subscribe blocks on the readiness coordinator until Append or
// Complete is called.
func (e *Entry) Subscribe(cursor int) (data []byte, next int, eof bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for cursor >= len(e.response) && !e.complete {
		e.cond.Wait()
	}

	if cursor < len(e.response) {
		data = make([]byte, len(e.response)-cursor)
		copy(data, e.response[cursor:])
		return data, len(e.response), false
	}

	// cursor == len(response) && complete: fully drained.
	return nil, cursor, true
}

// markDeleted flags the entry as logically removed; live Subscribe
// callers already blocked continue to observe whatever bytes arrive
// until Complete, but Cache.Get must never hand out a deleted entry to a
// new caller.
func (e *Entry) markDeleted() {
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
}

func (e *Entry) isDeleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleted
}

// Destroy reclaims the entry's response buffer. The caller is responsible
// for ensuring there are no live subscribers, matching the reference
// contract's precondition.
func (e *Entry) Destroy() {
	e.mu.Lock()
	e.response = nil
	e.mu.Unlock()
}
