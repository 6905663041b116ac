package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// ContentTypeJSONL is the content type of archive objects.
const ContentTypeJSONL = "application/x-ndjson"

// Archiver exports expiring rows of a table and uploads them as one JSONL
// object. It never deletes; purging is the caller's next step once the
// upload succeeded.
type Archiver struct {
	writer domain.BlobWriter
	rows   domain.RetentionStore
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(writer domain.BlobWriter, rows domain.RetentionStore, prefix string) *Archiver {
	return &Archiver{writer: writer, rows: rows, prefix: prefix, now: time.Now}
}

// ObjectPath returns the key for an archive of table cut at before, e.g.
// archive/walls/2025-01-31/20250131T040000Z.jsonl.
func ObjectPath(prefix, table string, before, at time.Time) string {
	return path.Join(prefix, table, before.UTC().Format("2006-01-02"), at.UTC().Format("20060102T150405Z")+".jsonl")
}

// Archive uploads the rows of table older than before and returns how many
// there were. Nothing is uploaded when there are none.
func (a *Archiver) Archive(ctx context.Context, table string, before time.Time) (int64, string, error) {
	var buf bytes.Buffer
	n, err := a.rows.Export(ctx, table, before, &buf)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: export %s: %w", table, err)
	}
	if n == 0 {
		return 0, "", nil
	}

	key := ObjectPath(a.prefix, table, before, a.now())
	if int64(buf.Len()) > MinPartSize {
		err = a.writer.PutMultipart(ctx, key, &buf, MinPartSize)
	} else {
		err = a.writer.Put(ctx, key, &buf, ContentTypeJSONL)
	}
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: upload %s: %w", table, err)
	}
	return n, key, nil
}
