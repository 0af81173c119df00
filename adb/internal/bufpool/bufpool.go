// Package bufpool provides a shared pool of payload-sized byte slices so
// the transport adapters' Send path doesn't allocate a new encode buffer
// for every packet under high throughput.
package bufpool

import "sync"

// MaxPayload is the largest buffer this pool hands out, matching
// wire.DefaultMaxPayloadSize. Requests for more than this are allocated
// directly rather than pooled.
const MaxPayload = 1 << 18 // 256 KiB

var pool = sync.Pool{
	New: func() any {
		b := make([]byte, MaxPayload)
		return &b
	},
}

// Get returns a buffer of at least n bytes, sliced to length n. Buffers
// larger than MaxPayload bypass the pool.
func Get(n int) *[]byte {
	if n > MaxPayload {
		b := make([]byte, n)
		return &b
	}
	bp := pool.Get().(*[]byte)
	*bp = (*bp)[:n]
	return bp
}

// Put returns b to the pool. Buffers larger than MaxPayload are dropped
// instead of pooled, since they were never allocated from it.
func Put(b *[]byte) {
	if cap(*b) > MaxPayload {
		return
	}
	pool.Put(b)
}
