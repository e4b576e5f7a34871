package ledger

import (
	"fmt"
	"math/rand"
	"time"
)

// Reference prefixes. Existing data depends on both formats:
//
//	PROC-<epoch-ms>-<000..999>
//	PAY-<epoch-ms>-<000..999>
const (
	ProcurementRefPrefix = "PROC"
	PaymentRefPrefix     = "PAY"
)

// ReferenceGenerator builds human-facing reference codes.
type ReferenceGenerator struct {
	Now  func() time.Time
	IntN func(n int) int
}

// NewReferenceGenerator returns a generator using the wall clock and math/rand.
func NewReferenceGenerator() *ReferenceGenerator {
	return &ReferenceGenerator{Now: time.Now, IntN: rand.Intn}
}

func (g *ReferenceGenerator) Procurement() string {
	return g.next(ProcurementRefPrefix)
}

func (g *ReferenceGenerator) Payment() string {
	return g.next(PaymentRefPrefix)
}

func (g *ReferenceGenerator) next(prefix string) string {
	return fmt.Sprintf("%s-%d-%03d", prefix, g.Now().UnixMilli(), g.IntN(1000))
}
