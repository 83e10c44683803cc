package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntrySubscribeReturnsImmediatelyAvailableBytes(t *testing.T) {
	e := NewEntry([]byte("GET /a"), []byte("hello"))

	data, cursor, eof := e.Subscribe(0)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, 5, cursor)
	assert.False(t, eof)
}

func TestEntrySubscribeBlocksThenWakesOnAppend(t *testing.T) {
	e := NewEntry([]byte("GET /a"), nil)

	done := make(chan []byte, 1)
	go func() {
		data, _, _ := e.Subscribe(0)
		done <- data
	}()

	time.Sleep(20 * time.Millisecond)
	e.Append([]byte("chunk"))

	select {
	case data := <-done:
		assert.Equal(t, []byte("chunk"), data)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not woken by Append")
	}
}

func TestEntrySubscribeReportsEOFAfterComplete(t *testing.T) {
	e := NewEntry([]byte("GET /a"), []byte("done"))
	e.Complete()

	data, cursor, eof := e.Subscribe(0)
	assert.Equal(t, []byte("done"), data)
	assert.False(t, eof)

	_, _, eof = e.Subscribe(cursor)
	assert.True(t, eof)
}

func TestEntryMultipleSubscribersObserveIncrementalBytes(t *testing.T) {
	e := NewEntry([]byte("GET /a"), nil)

	const n = 5
	results := make([][]byte, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			data, _, _ := e.Subscribe(0)
			results[i] = data
		}()
	}

	time.Sleep(20 * time.Millisecond)
	e.Append([]byte("payload"))
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, []byte("payload"), results[i])
	}
}

func TestEntryDestroyClearsResponse(t *testing.T) {
	e := NewEntry([]byte("GET /a"), []byte("data"))
	e.Destroy()
	assert.Nil(t, e.response)
}
