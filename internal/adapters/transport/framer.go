package transport

import (
	"bytes"
	"strings"
)

// framer accumulates raw bytes and hands out complete newline terminated
// lines. Carriage returns and surrounding blanks are trimmed, invalid UTF-8 is
// replaced and empty lines are dropped.
type framer struct {
	buf []byte
}

func (f *framer) feed(p []byte) {
	f.buf = append(f.buf, p...)
}

func (f *framer) next() (string, bool) {
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			return "", false
		}
		line := cleanLine(string(f.buf[:i]))
		f.buf = f.buf[i+1:]
		if len(f.buf) == 0 {
			f.buf = nil
		}
		if line != "" {
			return line, true
		}
	}
}

func cleanLine(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD"))
}
