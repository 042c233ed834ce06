package services

// boundedSeries is a fixed-capacity FIFO ring. Appending to a full series
// evicts the oldest entry.
type boundedSeries[T any] struct {
	buf   []T
	start int
	size  int
}

func newBoundedSeries[T any](capacity int) *boundedSeries[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &boundedSeries[T]{buf: make([]T, capacity)}
}

func (s *boundedSeries[T]) Append(v T) {
	if s.size < len(s.buf) {
		s.buf[(s.start+s.size)%len(s.buf)] = v
		s.size++
		return
	}
	s.buf[s.start] = v
	s.start = (s.start + 1) % len(s.buf)
}

func (s *boundedSeries[T]) Len() int { return s.size }

// Items returns a copy in arrival order, oldest first.
func (s *boundedSeries[T]) Items() []T {
	out := make([]T, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.buf[(s.start+i)%len(s.buf)]
	}
	return out
}
