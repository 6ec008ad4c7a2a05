package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_ULIDOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ULIDs generated at later times sort after earlier ones", prop.ForAll(
		func(t1Ms, t2Ms int64) bool {
			if t1Ms >= t2Ms {
				t1Ms, t2Ms = t2Ms, t1Ms+1
			}
			g := NewULIDGenerator()
			u1, err := g.GenerateWithTime(time.UnixMilli(t1Ms))
			if err != nil {
				return false
			}
			u2, err := g.GenerateWithTime(time.UnixMilli(t2Ms))
			if err != nil {
				return false
			}
			return u1.Compare(u2) < 0 && u1.String() < u2.String()
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.Property("ULIDs within one millisecond are strictly increasing", prop.ForAll(
		func(tsMs int64, count int) bool {
			g := NewULIDGenerator()
			ts := time.UnixMilli(tsMs)
			prev, err := g.GenerateWithTime(ts)
			if err != nil {
				return false
			}
			for i := 1; i < count; i++ {
				curr, err := g.GenerateWithTime(ts)
				if err != nil || prev.Compare(curr) >= 0 {
					return false
				}
				prev = curr
			}
			return true
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.IntRange(2, 100),
	))

	properties.Property("timestamp round-trips through the ULID", prop.ForAll(
		func(tsMs int64) bool {
			u, err := NewULIDGenerator().GenerateWithTime(time.UnixMilli(tsMs))
			if err != nil {
				return false
			}
			return u.Timestamp() == uint64(tsMs)
		},
		gen.Int64Range(1, 281474976710655),
	))

	properties.TestingRun(t)
}
