package session

// Subscribe returns a channel receiving every event of every run, and a
// function that cancels the subscription. Slow subscribers miss progress
// events rather than stall the pipeline.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// emit delivers ev to the run channel and to subscribers without blocking.
// The last slot of the run channel is kept for the terminal event.
func (s *Session) emit(run chan Event, ev Event) {
	if ev.State.Terminal() || len(run) < cap(run)-1 {
		select {
		case run <- ev:
		default:
		}
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
