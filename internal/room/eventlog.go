package room

// EventLog is a fixed-capacity ring of the most recent sequenced events.
// Appending beyond capacity evicts the oldest entry.
type EventLog struct {
	buf   []SequencedEvent
	start int
	size  int
}

func NewEventLog(capacity int) *EventLog {
	if capacity < 1 {
		capacity = 1
	}
	return &EventLog{buf: make([]SequencedEvent, capacity)}
}

func (l *EventLog) Append(events ...SequencedEvent) {
	for _, evt := range events {
		if l.size < len(l.buf) {
			l.buf[(l.start+l.size)%len(l.buf)] = evt
			l.size++
			continue
		}
		l.buf[l.start] = evt
		l.start = (l.start + 1) % len(l.buf)
	}
}

// Oldest returns the earliest event still buffered.
func (l *EventLog) Oldest() (SequencedEvent, bool) {
	if l.size == 0 {
		return SequencedEvent{}, false
	}
	return l.buf[l.start], true
}

// Since returns, oldest first, every buffered event with a seq greater than
// seq.
func (l *EventLog) Since(seq uint64) []SequencedEvent {
	out := make([]SequencedEvent, 0, l.size)
	for i := 0; i < l.size; i++ {
		evt := l.buf[(l.start+i)%len(l.buf)]
		if evt.Seq > seq {
			out = append(out, evt)
		}
	}
	return out
}

func (l *EventLog) Len() int { return l.size }

func (l *EventLog) Cap() int { return len(l.buf) }

func (l *EventLog) Reset() {
	clear(l.buf)
	l.start = 0
	l.size = 0
}
