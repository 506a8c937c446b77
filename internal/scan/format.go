package scan

import (
	"fmt"
	"strings"

	"github.com/eargollo/hashcheck/internal/digest"
)

const (
	fileLabel = "File: "
	// maxPathText bounds the display path when sizing the scratch buffer.
	// Longer paths are still rendered in full; they just force a flush.
	maxPathText  = 4096
	labelWidth   = 8 // widest label: "SHA3-256"
	elapsedWidth = 32
)

// formatItem renders one item the way the results view shows it:
//
//	File: dir/name.ext
//	  CRC-32: 0b1c2d3e
//	 SHA-256: ...
//
// Only algorithms in set are listed; invalid ones show the X fill.
func formatItem(it *WorkItem, set digest.Set, timed bool) string {
	var b strings.Builder
	b.Grow(len(fileLabel) + len(it.Rel) + 1 + len(set.Algorithms())*(labelWidth+2+digest.MaxHexLength+1) + 1)
	b.WriteString(fileLabel)
	b.WriteString(it.Rel)
	b.WriteByte('\n')
	for _, a := range set.Algorithms() {
		fmt.Fprintf(&b, "%*s: %s\n", labelWidth, a.Label(), it.Result.Display(a))
	}
	if timed {
		fmt.Fprintf(&b, "Elapsed: %d ms\n", it.Elapsed.Milliseconds())
	}
	b.WriteByte('\n')
	return b.String()
}

// maxItemText is the largest text formatItem produces for a path of at most
// maxPathText bytes.
func maxItemText(set digest.Set, timed bool) int {
	n := len(fileLabel) + maxPathText + 1
	for _, a := range set.Algorithms() {
		n += labelWidth + 2 + a.HexLen() + 1
	}
	if timed {
		n += elapsedWidth
	}
	return n + 1
}
