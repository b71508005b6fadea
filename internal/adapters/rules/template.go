package rules

import (
	"regexp"

	"github.com/ghalamif/telemdeck/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Render substitutes {name} with the record value: two decimals for numbers,
// raw text otherwise. Unknown names are left as written.
func Render(template string, rec domain.Record) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := rec.Get(name)
		if !ok {
			return m
		}
		return v.Format()
	})
}
