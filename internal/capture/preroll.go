package capture

// PreRoll is a fixed-capacity ring of interleaved int16 I/Q values holding
// the most recent samples seen while the trigger is idle, so the start of a
// burst is not lost. Oldest samples are evicted first. Capacity is counted
// in complex pairs, so the ring never splits a pair.
type PreRoll struct {
	buf  []int16
	next int
	size int
}

// NewPreRoll creates a ring holding at most pairs complex samples.
func NewPreRoll(pairs int) *PreRoll {
	if pairs < 0 {
		pairs = 0
	}
	return &PreRoll{buf: make([]int16, pairs*2)}
}

// Append copies interleaved I/Q values into the ring, evicting the oldest on
// overflow. A trailing unpaired value is dropped.
func (r *PreRoll) Append(iq []int16) {
	iq = iq[:len(iq)/2*2]
	if len(r.buf) == 0 || len(iq) == 0 {
		return
	}

	if len(iq) >= len(r.buf) {
		copy(r.buf, iq[len(iq)-len(r.buf):])
		r.next = 0
		r.size = len(r.buf)
		return
	}

	n := copy(r.buf[r.next:], iq)
	if n < len(iq) {
		copy(r.buf, iq[n:])
	}
	r.next = (r.next + len(iq)) % len(r.buf)
	if r.size += len(iq); r.size > len(r.buf) {
		r.size = len(r.buf)
	}
}

// Samples returns the number of complex pairs currently held.
func (r *PreRoll) Samples() int {
	return r.size / 2
}

// Snapshot returns the held samples oldest-first as a fresh slice, truncated
// to a whole number of pairs. The ring itself is unchanged.
func (r *PreRoll) Snapshot() []int16 {
	out := make([]int16, 0, r.size)
	if r.size < len(r.buf) {
		// Not yet wrapped: data occupies the front of the buffer.
		out = append(out, r.buf[:r.size]...)
	} else {
		out = append(out, r.buf[r.next:]...)
		out = append(out, r.buf[:r.next]...)
	}
	return out[:len(out)/2*2]
}

// Clear empties the ring.
func (r *PreRoll) Clear() {
	r.next = 0
	r.size = 0
}
