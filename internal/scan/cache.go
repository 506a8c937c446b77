package scan

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eargollo/hashcheck/internal/digest"
)

// DigestCache looks up digests recorded by earlier runs in the
// file_digests table using the key (path, size, mtime). A row only counts
// when the file is unchanged since it was hashed.
type DigestCache struct {
	db *sql.DB
}

// NewDigestCache creates a DigestCache over db.
func NewDigestCache(db *sql.DB) *DigestCache {
	return &DigestCache{db: db}
}

// Lookup implements KnownDigests.
func (c *DigestCache) Lookup(ctx context.Context, fi FileInfo) (map[digest.Algorithm]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT algorithm, hex FROM file_digests WHERE path = ? AND size = ? AND mtime = ?`,
		fi.Path, fi.Size, fi.MTime.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query digests %q: %w", fi.Path, err)
	}
	defer rows.Close()

	var out map[digest.Algorithm]string
	for rows.Next() {
		var name, hex string
		if err := rows.Scan(&name, &hex); err != nil {
			return nil, fmt.Errorf("scan digest row: %w", err)
		}
		alg, err := digest.Parse(name)
		if err != nil {
			// Written by a build that knew more algorithms.
			continue
		}
		if out == nil {
			out = make(map[digest.Algorithm]string)
		}
		out[alg] = hex
	}
	return out, rows.Err()
}
