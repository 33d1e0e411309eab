package wsproto

// Reassembler accumulates fragments of a client WebSocket message until the
// final fragment arrives, per spec.md §9 ("manual byte-accumulation buffers
// for fragmented WebSocket messages... encapsulate as a reassembler with
// append(bytes) and take-final() → message operations").
//
// gorilla/websocket already reassembles a single ReadMessage() call's
// fragments internally, so in practice this type is only exercised when a
// caller feeds it raw fragments directly (as the unit tests do) or when a
// transport is swapped for one that exposes fragments individually.
type Reassembler struct {
	buf []byte
}

// Append adds a fragment to the in-progress message.
func (r *Reassembler) Append(fragment []byte) {
	r.buf = append(r.buf, fragment...)
}

// TakeFinal returns the accumulated message and resets the reassembler.
// Call this only once the final fragment has been appended.
func (r *Reassembler) TakeFinal() []byte {
	msg := r.buf
	r.buf = nil
	return msg
}

// Len reports the number of bytes accumulated so far.
func (r *Reassembler) Len() int {
	return len(r.buf)
}
