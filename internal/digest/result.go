package digest

import "strings"

// InvalidFill is the byte used to render digests that are not valid.
const InvalidFill = 'X'

// Result holds the digests of one file. A hex string is meaningful only
// when its algorithm is in Valid.
type Result struct {
	Valid Set
	hex   [NumAlgorithms + 1]string
}

func (r *Result) set(a Algorithm, s string) {
	r.hex[a] = s
	r.Valid |= a.Bit()
}

// Hex returns the digest for a and whether it is valid.
func (r *Result) Hex(a Algorithm) (string, bool) {
	if !r.Valid.Has(a) {
		return "", false
	}
	return r.hex[a], true
}

// Seed records a digest known from an earlier computation. Strings of the
// wrong length are ignored.
func (r *Result) Seed(a Algorithm, s string) bool {
	if !a.Valid() || len(s) != a.HexLen() {
		return false
	}
	r.set(a, s)
	return true
}

// Display returns the string to show for a: the digest when valid, the
// fill pattern otherwise.
func (r *Result) Display(a Algorithm) string {
	if s, ok := r.Hex(a); ok {
		return s
	}
	return strings.Repeat(string(InvalidFill), a.HexLen())
}

// ClearInvalid overwrites every algorithm of want that is not valid with
// the fill pattern, so stale strings from an earlier run never survive.
// It reports whether all of want is valid.
func (r *Result) ClearInvalid(want Set) bool {
	for _, a := range want.Algorithms() {
		if !r.Valid.Has(a) {
			r.hex[a] = strings.Repeat(string(InvalidFill), a.HexLen())
		}
	}
	return want&^r.Valid == 0
}

// Invalidate marks every algorithm invalid and fills all strings.
func (r *Result) Invalidate() {
	r.Valid = 0
	for _, a := range All() {
		r.hex[a] = strings.Repeat(string(InvalidFill), a.HexLen())
	}
}

// Missing returns the algorithms of want that still need computing.
func (r *Result) Missing(want Set) Set { return want &^ r.Valid }
