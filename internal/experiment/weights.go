package experiment

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxWeight bounds the multiplicity a single condition key may request.
const MaxWeight = 1000

// parseWeight extracts the "[n]" suffix of a condition key.
// Keys without a trailing bracket group have weight 1 and weighted=false.
func parseWeight(key string) (weight int, weighted bool, err error) {
	if !strings.HasSuffix(key, "]") {
		return 1, false, nil
	}
	open := strings.LastIndexByte(key, '[')
	if open < 0 {
		return 1, false, nil
	}

	digits := key[open+1 : len(key)-1]
	n, convErr := strconv.Atoi(digits)
	if convErr != nil || n < 1 || !isDigits(digits) {
		return 0, false, fmt.Errorf("%w: condition %q has a malformed weight %q", ErrInvalidArgument, key, digits)
	}
	if n > MaxWeight {
		return 0, false, fmt.Errorf("%w: condition %q weight %d exceeds maximum %d", ErrInvalidArgument, key, n, MaxWeight)
	}
	return n, true, nil
}

// isDigits rejects signs and whitespace that strconv.Atoi would otherwise accept.
func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// candidates holds the validated condition keys of one decision.
type candidates struct {
	keys []string        // distinct keys in first-occurrence order
	pool []string        // weighted pool used for random draws
	set  map[string]bool // membership of keys
}

// expand validates the condition keys and builds the weighted pool.
// Duplicate keys collapse to their first occurrence. When no key carries a weight
// the pool is the plain key list.
func expand(conditions []string) (candidates, error) {
	if len(conditions) == 0 {
		return candidates{}, fmt.Errorf("%w: at least one condition is required", ErrInvalidArgument)
	}

	c := candidates{set: make(map[string]bool, len(conditions))}
	weights := make([]int, 0, len(conditions))
	anyWeighted := false

	for _, key := range conditions {
		if key == "" {
			return candidates{}, fmt.Errorf("%w: condition key cannot be empty", ErrInvalidArgument)
		}
		if c.set[key] {
			continue
		}
		w, weighted, err := parseWeight(key)
		if err != nil {
			return candidates{}, err
		}
		anyWeighted = anyWeighted || weighted
		c.set[key] = true
		c.keys = append(c.keys, key)
		weights = append(weights, w)
	}

	if !anyWeighted {
		c.pool = c.keys
		return c, nil
	}

	for i, key := range c.keys {
		for range weights[i] {
			c.pool = append(c.pool, key)
		}
	}
	return c, nil
}
