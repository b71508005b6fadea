package codec

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

const (
	tagData = "data"
	tagInfo = "info"
)

// LineCodec decodes the `data:`/`info:` line protocol. It stamps records with
// a sequence number and arrival time.
type LineCodec struct {
	seq uint64
	now func() time.Time
}

func NewLineCodec() *LineCodec {
	return &LineCodec{now: time.Now}
}

// Decode is not safe for concurrent use; the tick consumer owns the codec.
func (c *LineCodec) Decode(line string) domain.Record {
	rec := Decode(line)
	c.seq++
	rec.Seq = c.seq
	rec.ReceivedAt = c.now()
	return rec
}

// Decode parses one raw line. It never fails: anything that does not fit the
// protocol comes back as a malformed record holding the original text.
func Decode(line string) domain.Record {
	tag, payload, ok := strings.Cut(line, ":")
	if !ok {
		return malformed(line)
	}

	switch strings.TrimSpace(tag) {
	case tagData:
		return decodeData(line, payload)
	case tagInfo:
		return domain.Record{Kind: domain.KindInfo, Text: strings.TrimSpace(payload)}
	default:
		return malformed(line)
	}
}

func decodeData(line, payload string) domain.Record {
	tokens := strings.Fields(payload)
	fields := make(map[string]domain.Value, len(tokens))
	keys := make([]string, 0, len(tokens))

	for _, tok := range tokens {
		key, raw, ok := strings.Cut(tok, ":")
		if !ok || key == "" {
			return malformed(line)
		}
		if _, dup := fields[key]; dup {
			return malformed(line)
		}
		fields[key] = ParseValue(raw)
		keys = append(keys, key)
	}

	return domain.Record{Kind: domain.KindData, Fields: fields, Keys: keys}
}

// ParseValue converts a token value to a number when it reads as a decimal
// float. Hex codes such as 0x3, NaN/Inf spellings and anything non numeric
// stay text.
func ParseValue(raw string) domain.Value {
	if isHexLiteral(raw) {
		return domain.TextValue(raw)
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return domain.TextValue(raw)
	}
	return domain.NumberValue(raw, n)
}

func isHexLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func malformed(line string) domain.Record {
	return domain.Record{Kind: domain.KindMalformed, Text: line}
}

var _ ports.Decoder = (*LineCodec)(nil)
