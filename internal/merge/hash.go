package merge

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// HashProjection computes the content hash of a projected row value.
// encoding/json marshals map keys in sorted order, so the hash input is
// canonical for any nesting of maps and scalars.
func HashProjection(v map[string]any) uint64 {
	if len(v) == 0 {
		return 0
	}
	b, err := json.Marshal(v)
	if err != nil {
		// Values originate from JSONB reads and captured snapshots; a
		// marshal failure here means a non-JSON value leaked into the
		// pipeline. Hash the error text so the change is never suppressed.
		return xxhash.Sum64String(err.Error())
	}
	return xxhash.Sum64(b)
}
