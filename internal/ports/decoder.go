package ports

import "github.com/ghalamif/telemdeck/internal/domain"

// Decoder turns one raw line into a record. It must never fail or panic.
type Decoder interface {
	Decode(line string) domain.Record
}
