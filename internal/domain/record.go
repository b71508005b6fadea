package domain

import (
	"fmt"
	"time"
)

// RecordKind tags which variant a Record carries.
type RecordKind uint8

const (
	KindMalformed RecordKind = iota
	KindData
	KindInfo
)

func (k RecordKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindInfo:
		return "info"
	default:
		return "malformed"
	}
}

func (k RecordKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Value is one decoded field of a data record. Raw always holds the token text;
// Num is only meaningful when IsNum is set.
type Value struct {
	Raw   string  `json:"raw"`
	Num   float64 `json:"num,omitempty"`
	IsNum bool    `json:"is_num"`
}

// TextValue builds a non-numeric value.
func TextValue(raw string) Value {
	return Value{Raw: raw}
}

// NumberValue builds a numeric value keeping the original token text.
func NumberValue(raw string, n float64) Value {
	return Value{Raw: raw, Num: n, IsNum: true}
}

func (v Value) Float() (float64, bool) {
	return v.Num, v.IsNum
}

// Format renders numbers with two decimals and text verbatim.
func (v Value) Format() string {
	if v.IsNum {
		return fmt.Sprintf("%.2f", v.Num)
	}
	return v.Raw
}

func (v Value) String() string { return v.Raw }

// Record is the decoded form of one telemetry line.
//
// Data records carry Fields with unique keys and Keys in token order. Info
// records carry the free text payload in Text. Malformed records keep the
// original line in Text exactly as received.
type Record struct {
	Kind       RecordKind       `json:"kind"`
	Fields     map[string]Value `json:"fields,omitempty"`
	Keys       []string         `json:"keys,omitempty"`
	Text       string           `json:"text,omitempty"`
	Seq        uint64           `json:"seq"`
	ReceivedAt time.Time        `json:"received_at"`
}

func (r Record) IsData() bool { return r.Kind == KindData }

// Get returns the field value for key on data records.
func (r Record) Get(key string) (Value, bool) {
	if r.Kind != KindData || r.Fields == nil {
		return Value{}, false
	}
	v, ok := r.Fields[key]
	return v, ok
}

// Number returns the numeric value for key, false if absent or not numeric.
func (r Record) Number(key string) (float64, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	return v.Float()
}
