package ports

import "github.com/ghalamif/telemdeck/internal/domain"

type Sink interface {
	WriteBatch(batch domain.Batch) error
	Name() string
}
