package raknet

// messageWindow remembers which reliable message indices were received so
// a frame set resent because its ack got lost is processed only once.
type messageWindow struct {
	// base is the lowest index not yet received
	base uint32
	seen map[uint32]struct{}
}

func newMessageWindow() *messageWindow {
	return &messageWindow{seen: make(map[uint32]struct{})}
}

// has reports whether index was received already.
func (w *messageWindow) has(index uint32) bool {
	if index < w.base {
		return true
	}
	_, found := w.seen[index]
	return found
}

// fits reports whether add would take index.
func (w *messageWindow) fits(index uint32) bool {
	return index < w.base || index-w.base < windowSize
}

// add reports whether index is new and within the window.
func (w *messageWindow) add(index uint32) bool {
	if index < w.base || index-w.base >= windowSize {
		return false
	}
	if _, found := w.seen[index]; found {
		return false
	}
	w.seen[index] = struct{}{}
	for {
		if _, found := w.seen[w.base]; !found {
			return true
		}
		delete(w.seen, w.base)
		w.base++
	}
}
