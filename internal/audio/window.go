package audio

// Window keeps two bounded byte windows over a PCM stream: a look-back window
// (pre) holding the most recent audio, and a per-tick window (post) holding
// audio received since the last ClearPost. Both drop their oldest bytes once
// full. A Window is owned by a single session and is not safe for concurrent use.
type Window struct {
	pre     []byte
	post    []byte
	preCap  int
	postCap int
}

// NewWindow returns an empty window. Negative capacities are treated as zero.
func NewWindow(preCap, postCap int) *Window {
	if preCap < 0 {
		preCap = 0
	}
	if postCap < 0 {
		postCap = 0
	}
	return &Window{
		pre:     make([]byte, 0, preCap),
		post:    make([]byte, 0, postCap),
		preCap:  preCap,
		postCap: postCap,
	}
}

// Append adds chunk to both windows and trims each to its capacity.
func (w *Window) Append(chunk []byte) {
	w.pre = appendBounded(w.pre, chunk, w.preCap)
	w.post = appendBounded(w.post, chunk, w.postCap)
}

// appendBounded keeps the newest limit bytes of buf+chunk, reusing buf's backing array.
func appendBounded(buf, chunk []byte, limit int) []byte {
	if limit == 0 {
		return buf[:0]
	}
	if len(chunk) >= limit {
		buf = append(buf[:0], chunk[len(chunk)-limit:]...)
		return buf
	}
	if overflow := len(buf) + len(chunk) - limit; overflow > 0 {
		n := copy(buf, buf[overflow:])
		buf = buf[:n]
	}
	return append(buf, chunk...)
}

// Snapshot returns a copy of pre followed by post.
func (w *Window) Snapshot() []byte {
	out := make([]byte, 0, len(w.pre)+len(w.post))
	out = append(out, w.pre...)
	return append(out, w.post...)
}

// Pre returns a copy of the look-back window.
func (w *Window) Pre() []byte {
	return append([]byte(nil), w.pre...)
}

// Post returns a copy of the per-tick window.
func (w *Window) Post() []byte {
	return append([]byte(nil), w.post...)
}

// AppendPost appends the per-tick window to dst without an intermediate copy.
func (w *Window) AppendPost(dst []byte) []byte {
	return append(dst, w.post...)
}

func (w *Window) PreLen() int  { return len(w.pre) }
func (w *Window) PostLen() int { return len(w.post) }
func (w *Window) PreCap() int  { return w.preCap }
func (w *Window) PostCap() int { return w.postCap }

// ClearPost empties the per-tick window only.
func (w *Window) ClearPost() {
	w.post = w.post[:0]
}

// Reset releases both windows.
func (w *Window) Reset() {
	w.pre = nil
	w.post = nil
}
