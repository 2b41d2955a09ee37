package enums

import (
	"fmt"
	"slices"
)

// values is the closed set of a string enum in declaration order.
type values[T ~string] []T

func (v values[T]) has(x T) bool {
	return slices.Contains(v, x)
}

// parse matches raw exactly. Callers normalize first when the enum accepts
// loose input.
func (v values[T]) parse(kind, raw string) (T, error) {
	if x := T(raw); v.has(x) {
		return x, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
