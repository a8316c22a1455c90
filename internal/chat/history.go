package chat

// History is a fixed-capacity FIFO ring of broadcast messages kept for
// replay on join. It is not safe for concurrent use; the hub guards it.
type History struct {
	buf   []Message
	start int
	n     int
}

// NewHistory returns a ring holding at most capacity messages. A capacity
// of zero or less disables replay.
func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{buf: make([]Message, capacity)}
}

// Cap returns the configured capacity.
func (h *History) Cap() int { return len(h.buf) }

// Len returns the number of stored messages.
func (h *History) Len() int { return h.n }

// Push appends m, evicting the oldest message when full.
func (h *History) Push(m Message) {
	if len(h.buf) == 0 {
		return
	}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = m
		h.n++
		return
	}
	h.buf[h.start] = m
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot copies the stored messages oldest first.
func (h *History) Snapshot() []Message {
	out := make([]Message, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}
