package network

// Window is an append-only history that keeps only its newest entries.
// A non-positive limit keeps everything.
type Window[T any] struct {
	limit int
	items []T
}

func NewWindow[T any](limit int) Window[T] {
	return Window[T]{limit: limit}
}

// Append adds v, dropping the oldest entry once the limit is exceeded.
func (w *Window[T]) Append(v T) {
	w.items = append(w.items, v)
	if w.limit > 0 && len(w.items) > w.limit {
		drop := len(w.items) - w.limit
		w.items = append(w.items[:0:0], w.items[drop:]...)
	}
}

func (w Window[T]) Len() int { return len(w.items) }

// Items returns a copy of the entries, oldest first.
func (w Window[T]) Items() []T {
	out := make([]T, len(w.items))
	copy(out, w.items)
	return out
}

// Last returns the newest entry.
func (w Window[T]) Last() (T, bool) {
	var zero T
	if len(w.items) == 0 {
		return zero, false
	}
	return w.items[len(w.items)-1], true
}

// Back returns the entry n steps before the newest; Back(0) is Last.
func (w Window[T]) Back(n int) (T, bool) {
	var zero T
	i := len(w.items) - 1 - n
	if n < 0 || i < 0 {
		return zero, false
	}
	return w.items[i], true
}

func (w Window[T]) clone() Window[T] {
	return Window[T]{limit: w.limit, items: w.Items()}
}
