package observability

import (
	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// Nop discards everything.
type Nop struct{}

func (Nop) LogInfo(string, ...ports.Field)            {}
func (Nop) LogError(string, error, ...ports.Field)    {}
func (Nop) LogCritical(string, error, ...ports.Field) {}
func (Nop) IncCounter(string, float64)                {}
func (Nop) ObserveLatency(string, float64)            {}
func (Nop) SetGauge(string, float64)                  {}
func (Nop) RecordMalformed(domain.Record)             {}

var _ ports.Observability = Nop{}
