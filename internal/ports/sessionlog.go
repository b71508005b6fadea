package ports

import "time"

// SessionLog is the append-only raw line log kept for every connection session.
type SessionLog interface {
	Begin(sessionID string, at time.Time) error
	Append(line string, at time.Time) error
	Mark(event string, at time.Time) error
	Flush() error
	Close() error
	Stats() SessionLogStats
}

type SessionLogStats struct {
	Path      string
	Lines     uint64
	SizeBytes int64
}
