// Package checksumfile writes digest lists in the formats common checksum
// tools read back: GNU coreutils style ("<hex> *<path>") for every
// algorithm except CRC-32, which is written as SFV ("<path> <HEX>").
package checksumfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eargollo/hashcheck/internal/digest"
)

// ErrEmpty is returned when there is nothing to write.
var ErrEmpty = errors.New("no entries to write")

// Entry is one line of a checksum file.
type Entry struct {
	Path string // relative, written with forward slashes
	Hex  string
}

// Write renders entries for alg to w.
func Write(w io.Writer, alg digest.Algorithm, entries []Entry) error {
	if !alg.Valid() {
		return fmt.Errorf("write checksums: unknown algorithm %d", int(alg))
	}
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		path := filepath.ToSlash(e.Path)
		var err error
		if alg == digest.CRC32 {
			_, err = fmt.Fprintf(bw, "%s %s\n", path, strings.ToUpper(e.Hex))
		} else {
			_, err = fmt.Fprintf(bw, "%s *%s\n", strings.ToLower(e.Hex), path)
		}
		if err != nil {
			return fmt.Errorf("write checksum line: %w", err)
		}
	}
	return bw.Flush()
}

// WriteFile writes entries to path atomically: the data goes to a temporary
// file in the same directory which is renamed over path once complete, so
// an interrupted save never leaves a partial file behind.
func WriteFile(path string, alg digest.Algorithm, entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmpty
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hashcheck-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := Write(tmp, alg, entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename to %q: %w", path, err)
	}
	return nil
}

// DefaultName returns the conventional file name for a checksum file of
// alg next to base, e.g. "photos.sha256".
func DefaultName(base string, alg digest.Algorithm) string {
	return base + alg.Ext()
}
