package ports

// LineQueue hands raw lines from the reader goroutine to the tick consumer.
// One producer, one consumer; arrival order is preserved.
type LineQueue interface {
	Push(line string)
	TryPopAll() []string
	Len() int
	Discard() int
}
