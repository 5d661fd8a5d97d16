package mqtt

// bufferedMsg is a serialized message held for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO of messages published while the
// broker was unreachable. When full the oldest message is dropped. Callers
// synchronize.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped int // since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

// push appends msg and reports whether an older message was dropped.
func (r *ringBuffer) push(msg bufferedMsg) bool {
	n := len(r.buf)
	r.buf[r.head] = msg
	r.head = (r.head + 1) % n
	if r.count == n {
		r.dropped++
		return true
	}
	r.count++
	return false
}

// drain returns the buffered messages oldest first, and how many were lost,
// then empties the buffer.
func (r *ringBuffer) drain() ([]bufferedMsg, int) {
	dropped := r.dropped
	r.dropped = 0
	if r.count == 0 {
		return nil, dropped
	}
	n := len(r.buf)
	out := make([]bufferedMsg, r.count)
	start := (r.head - r.count + n) % n
	for i := range out {
		out[i] = r.buf[(start+i)%n]
		r.buf[(start+i)%n] = bufferedMsg{}
	}
	r.count = 0
	r.head = 0
	return out, dropped
}

func (r *ringBuffer) len() int {
	return r.count
}
