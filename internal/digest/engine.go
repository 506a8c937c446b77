package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"strings"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// ErrNotInitialized is returned when an Engine is used without a preceding
// Init, including a second Finish on the same contexts.
var ErrNotInitialized = errors.New("digest engine not initialized")

// newContext constructs the running state for one algorithm.
func newContext(a Algorithm) (hash.Hash, error) {
	switch a {
	case CRC32:
		return crc32.NewIEEE(), nil
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case SHA3_512:
		return sha3.New512(), nil
	case BLAKE3:
		return blake3.New(BLAKE3.Size(), nil), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %v", a)
	}
}

// Engine feeds one byte stream to every algorithm of a Set. An Engine is
// owned by a single goroutine; it may be reused for the next stream after
// Finish or Discard by calling Init again.
type Engine struct {
	ctxs [NumAlgorithms + 1]hash.Hash
	set  Set
	live bool
}

// Init prepares one fresh context per algorithm in set. An empty set is
// valid and makes Update a no-op.
func (e *Engine) Init(set Set) error {
	e.Discard()
	if unk := set.Unknown(); unk != 0 {
		return fmt.Errorf("init digest engine: unknown algorithm bits %#x", uint32(unk))
	}
	for _, a := range set.Algorithms() {
		h, err := newContext(a)
		if err != nil {
			e.Discard()
			return fmt.Errorf("init digest engine: %w", err)
		}
		e.ctxs[a] = h
	}
	e.set = set
	e.live = true
	return nil
}

// Set returns the algorithms the engine is currently computing.
func (e *Engine) Set() Set {
	if !e.live {
		return 0
	}
	return e.set
}

// Update feeds p to every active context, in canonical algorithm order.
func (e *Engine) Update(p []byte) error {
	if !e.live {
		return ErrNotInitialized
	}
	for _, a := range e.set.Algorithms() {
		// hash.Hash.Write never returns an error.
		e.ctxs[a].Write(p)
	}
	return nil
}

// Finish finalizes every context, stores the hex digests in res and marks
// them valid. Algorithms outside the engine's set are left untouched. The
// contexts are released; the engine must be re-initialized before reuse.
func (e *Engine) Finish(res *Result, upper bool) error {
	if !e.live {
		return ErrNotInitialized
	}
	for _, a := range e.set.Algorithms() {
		res.set(a, encode(a, e.ctxs[a], upper))
	}
	e.Discard()
	return nil
}

// Discard drops all contexts without producing results.
func (e *Engine) Discard() {
	for i := range e.ctxs {
		e.ctxs[i] = nil
	}
	e.set = 0
	e.live = false
}

func encode(a Algorithm, h hash.Hash, upper bool) string {
	var sum []byte
	if c, ok := h.(hash.Hash32); ok && a == CRC32 {
		// CRC-32 state is a native integer; emit it big-endian so the hex
		// form does not depend on the host byte order.
		sum = binary.BigEndian.AppendUint32(nil, c.Sum32())
	} else {
		sum = h.Sum(nil)
	}
	s := hex.EncodeToString(sum)
	if upper {
		s = strings.ToUpper(s)
	}
	return s
}
