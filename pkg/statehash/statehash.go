// Package statehash fingerprints replicated state. Two replicas whose
// digests match at a tick hold identical state there; convergence
// tests and the repl's digest command rely on this.
package statehash

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Digest hashes the canonical JSON encoding of v. encoding/json sorts
// map keys, so equal values digest equally regardless of insertion
// order.
func Digest(v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal state: %w", err)
	}
	return xxhash.Sum64(data), nil
}

// Sum formats the digest as fixed-width hex for log lines and
// comparisons by eye.
func Sum(v any) (string, error) {
	d, err := Digest(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", d), nil
}
