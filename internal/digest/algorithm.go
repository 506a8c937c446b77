// Package digest computes several checksums and cryptographic hashes over a
// single byte stream in one pass.
package digest

import (
	"fmt"
	"strings"
)

// Algorithm identifies one supported digest. Values are 1-based so that an
// Algorithm's bit in a Set is 1 << (a-1).
type Algorithm int

const (
	CRC32 Algorithm = iota + 1
	MD5
	SHA1
	SHA256
	SHA512
	SHA3_256
	SHA3_512
	BLAKE3
)

// NumAlgorithms is the number of supported algorithms.
const NumAlgorithms = int(BLAKE3)

// MaxHexLength is the longest hex string any algorithm produces.
const MaxHexLength = 64 * 2

type algInfo struct {
	name   string // canonical lower-case name used in config and the API
	label  string // display name
	ext    string // checksum file extension
	length int    // digest length in bytes
}

var algorithms = [NumAlgorithms + 1]algInfo{
	CRC32:    {"crc32", "CRC-32", ".sfv", 4},
	MD5:      {"md5", "MD5", ".md5", 16},
	SHA1:     {"sha1", "SHA-1", ".sha1", 20},
	SHA256:   {"sha256", "SHA-256", ".sha256", 32},
	SHA512:   {"sha512", "SHA-512", ".sha512", 64},
	SHA3_256: {"sha3-256", "SHA3-256", ".sha3-256", 32},
	SHA3_512: {"sha3-512", "SHA3-512", ".sha3-512", 64},
	BLAKE3:   {"blake3", "BLAKE3", ".blake3", 32},
}

// All returns every supported algorithm in canonical order.
func All() []Algorithm {
	out := make([]Algorithm, 0, NumAlgorithms)
	for a := CRC32; a <= BLAKE3; a++ {
		out = append(out, a)
	}
	return out
}

// Valid reports whether a names a supported algorithm.
func (a Algorithm) Valid() bool { return a >= CRC32 && a <= BLAKE3 }

// String returns the canonical lower-case name, e.g. "sha3-256".
func (a Algorithm) String() string {
	if !a.Valid() {
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
	return algorithms[a].name
}

// Label returns the display name, e.g. "SHA-256".
func (a Algorithm) Label() string {
	if !a.Valid() {
		return a.String()
	}
	return algorithms[a].label
}

// Ext returns the conventional checksum file extension, e.g. ".sha256".
func (a Algorithm) Ext() string {
	if !a.Valid() {
		return ""
	}
	return algorithms[a].ext
}

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	if !a.Valid() {
		return 0
	}
	return algorithms[a].length
}

// HexLen returns the length of the hex encoding, always 2 × Size.
func (a Algorithm) HexLen() int { return 2 * a.Size() }

// Bit returns the Set containing only a.
func (a Algorithm) Bit() Set {
	if !a.Valid() {
		return 0
	}
	return Set(1) << (a - 1)
}

// Parse maps a name (case-insensitive, "-" and "_" ignored, so "SHA-256",
// "sha256" and "sha3_256" all work) to an Algorithm.
func Parse(name string) (Algorithm, error) {
	norm := normalize(name)
	for _, a := range All() {
		if normalize(a.String()) == norm {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown algorithm %q", name)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "").Replace(s)
}

// Set is a bitset of algorithms.
type Set uint32

// AllSet contains every supported algorithm.
const AllSet = Set(1<<NumAlgorithms - 1)

// DefaultSet mirrors the classic property-sheet selection.
const DefaultSet = Set(1<<(CRC32-1) | 1<<(SHA1-1) | 1<<(SHA256-1) | 1<<(SHA512-1))

// SetOf builds a Set from the given algorithms.
func SetOf(algs ...Algorithm) Set {
	var s Set
	for _, a := range algs {
		s |= a.Bit()
	}
	return s
}

// ParseSet parses a list of algorithm names.
func ParseSet(names []string) (Set, error) {
	var s Set
	for _, n := range names {
		a, err := Parse(n)
		if err != nil {
			return 0, err
		}
		s |= a.Bit()
	}
	return s, nil
}

// Has reports whether a is in s.
func (s Set) Has(a Algorithm) bool { return a.Valid() && s&a.Bit() != 0 }

// Unknown returns the bits of s that do not map to a supported algorithm.
func (s Set) Unknown() Set { return s &^ AllSet }

// Algorithms lists the members of s in canonical order.
func (s Set) Algorithms() []Algorithm {
	var out []Algorithm
	for _, a := range All() {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// Names lists the canonical names of the members of s.
func (s Set) Names() []string {
	algs := s.Algorithms()
	out := make([]string, len(algs))
	for i, a := range algs {
		out[i] = a.String()
	}
	return out
}

// String renders s as a comma-separated name list.
func (s Set) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}
