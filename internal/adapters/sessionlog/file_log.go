package sessionlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ghalamif/telemdeck/internal/ports"
)

const stampLayout = "2006-01-02 15:04:05"

// ErrNotStarted is returned when lines are appended before Begin.
var ErrNotStarted = errors.New("session log not started")

// FileLog writes one text file per session under dir, named
// rawdatalog<YYYYMMDD>_<k>.txt with the first free k.
type FileLog struct {
	mu         sync.Mutex
	dir        string
	timestamps bool
	path       string
	file       *os.File
	writer     *bufio.Writer
	lines      uint64
	sizeBytes  int64
}

// NewFileLog prepares dir. With timestamps set every raw line is prefixed
// with its arrival time.
func NewFileLog(dir string, timestamps bool) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileLog{dir: dir, timestamps: timestamps}, nil
}

// Begin closes any previous session file and opens a new one.
func (l *FileLog) Begin(sessionID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.closeLocked(); err != nil {
		return err
	}

	path, err := l.nextPath(at)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.path = path
	l.file = f
	l.writer = bufio.NewWriterSize(f, 64<<10)
	l.lines = 0
	l.sizeBytes = 0

	if err := l.writeLocked(fmt.Sprintf("--- New session started at %s (session %s) ---\n", at.Format(stampLayout), sessionID)); err != nil {
		return err
	}
	return l.writer.Flush()
}

func (l *FileLog) Append(line string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return ErrNotStarted
	}
	if l.timestamps {
		line = "[" + at.Format(stampLayout) + "] " + line
	}
	if err := l.writeLocked(line + "\n"); err != nil {
		return err
	}
	l.lines++
	return nil
}

// Mark writes a "--- <event> at <time> ---" separator and flushes.
func (l *FileLog) Mark(event string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return ErrNotStarted
	}
	if err := l.writeLocked(fmt.Sprintf("--- %s at %s ---\n", event, at.Format(stampLayout))); err != nil {
		return err
	}
	return l.writer.Flush()
}

func (l *FileLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return nil
	}
	return l.writer.Flush()
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *FileLog) Stats() ports.SessionLogStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ports.SessionLogStats{
		Path:      l.path,
		Lines:     l.lines,
		SizeBytes: l.sizeBytes,
	}
}

func (l *FileLog) writeLocked(s string) error {
	n, err := l.writer.WriteString(s)
	l.sizeBytes += int64(n)
	return err
}

func (l *FileLog) closeLocked() error {
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.writer.Flush(), l.file.Close())
	l.file = nil
	l.writer = nil
	return err
}

func (l *FileLog) nextPath(at time.Time) (string, error) {
	day := at.Format("20060102")
	for k := 0; ; k++ {
		p := filepath.Join(l.dir, fmt.Sprintf("rawdatalog%s_%d.txt", day, k))
		_, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		if err != nil {
			return "", err
		}
	}
}

var _ ports.SessionLog = (*FileLog)(nil)
