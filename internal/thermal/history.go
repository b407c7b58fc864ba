package thermal

// history is a fixed-capacity ring of readings; the oldest is overwritten.
type history struct {
	buf   []Reading
	start int
	n     int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]Reading, capacity)}
}

func (h *history) push(r Reading) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = r
		h.n++
		return
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

// last returns up to k most recent readings, oldest first.
func (h *history) last(k int) []Reading {
	if k > h.n {
		k = h.n
	}
	out := make([]Reading, k)
	for i := 0; i < k; i++ {
		out[i] = h.buf[(h.start+h.n-k+i)%len(h.buf)]
	}
	return out
}
