// Package transport supplies the thin collaborator layer around the
// cache and worker pool core: a TCP accept loop, a minimal request-line
// fingerprint, and upstream forwarding. There is no original_source file
// for this layer — the reference project's proxy.c/proxy.h were not part
// of the retrieved sources — so it is authored fresh here, in the
// miss-then-populate shape this project's own Docker-registry proxy
// example uses: check the cache, serve a hit verbatim, or launch exactly
// one producer task per fingerprint and have every caller subscribe to
// its incrementally-arriving bytes.
package transport

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/maxermolaev/cache-proxy-go/internal/cache"
	"github.com/maxermolaev/cache-proxy-go/internal/logging"
	"github.com/maxermolaev/cache-proxy-go/internal/workerpool"
)

// Dialer abstracts the upstream connection so tests can substitute a fake
// origin without opening a real socket.
type Dialer func(fingerprint []byte) (io.ReadCloser, error)

// Proxy accepts client connections, derives a cache fingerprint from each
// request, and serves responses from cache on a hit or forwards to
// upstream on a miss, populating the cache entry as bytes arrive.
type Proxy struct {
	cache    *cache.Cache
	pool     *workerpool.Pool
	dial     Dialer
	listener net.Listener
}

// New constructs a Proxy over the given cache and worker pool. dial is
// called exactly once per distinct in-flight miss, regardless of how many
// concurrent client connections share that fingerprint.
func New(c *cache.Cache, pool *workerpool.Pool, dial Dialer) *Proxy {
	return &Proxy{cache: c, pool: pool, dial: dial}
}

// ListenAndServe binds addr and accepts connections until the listener is
// closed. It blocks; callers typically run it in its own goroutine.
func (p *Proxy) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.listener = ln

	logging.SetGoroutineName("accept-loop")
	defer logging.ClearGoroutineName()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go p.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (p *Proxy) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

// handleConn reads one request's fingerprint and serves it. It runs on its
// own goroutine per connection: accepting connections one at a time would
// serialize every client behind the slowest upstream fetch.
func (p *Proxy) handleConn(conn net.Conn) {
	defer conn.Close()

	fingerprint, err := readFingerprint(conn)
	if err != nil {
		logging.Log("Connection read error: %v", err)
		return
	}

	entry, err := p.cache.Get(fingerprint)
	if err == nil {
		p.stream(conn, entry, 0)
		return
	}

	entry, created := p.cache.GetOrCreate(fingerprint, func() *cache.Entry {
		return cache.NewEntry(fingerprint, nil)
	})
	if created {
		p.pool.Submit(func() {
			p.populate(fingerprint, entry)
		})
	}

	p.stream(conn, entry, 0)
}

// populate is the single producer task for one fingerprint: it dials
// upstream and streams the response into the entry incrementally so
// subscribers observe bytes as they arrive, then marks it complete.
// The entry's node is already in the cache from GetOrCreate; populate
// fills it in place rather than inserting a second node for the same
// fingerprint.
func (p *Proxy) populate(fingerprint []byte, entry *cache.Entry) {
	upstream, err := p.dial(fingerprint)
	if err != nil {
		logging.Log("Upstream dial error: %v", err)
		entry.Complete()
		return
	}
	defer upstream.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			entry.Append(buf[:n])
		}
		if readErr != nil {
			break
		}
	}
	entry.Complete()
}

// stream drains entry to conn starting at cursor, blocking on new bytes
// until the entry is complete and fully drained.
func (p *Proxy) stream(conn net.Conn, entry *cache.Entry, cursor int) {
	for {
		data, next, eof := entry.Subscribe(cursor)
		if eof {
			return
		}
		if len(data) > 0 {
			if _, err := conn.Write(data); err != nil {
				return
			}
		}
		cursor = next
	}
}

// readFingerprint reads the request line plus header block verbatim, the
// way the cache core treats the fingerprint as an opaque byte sequence:
// no method/header parsing, just a framing rule (terminated by a blank
// line) sufficient to know where one request ends.
func readFingerprint(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	r := bufio.NewReader(conn)
	var fingerprint []byte
	for {
		line, err := r.ReadBytes('\n')
		fingerprint = append(fingerprint, line...)
		if err != nil {
			return fingerprint, err
		}
		if len(line) <= 2 { // "\r\n" or "\n": end of header block
			break
		}
	}
	return fingerprint, nil
}
