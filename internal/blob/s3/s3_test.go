package s3blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	puts      map[string]string
	multipart map[string]int64
	err       error
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, _ := io.ReadAll(data)
	if m.puts == nil {
		m.puts = map[string]string{}
	}
	m.puts[path] = contentType + "|" + string(b)
	return nil
}

func (m *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	n, _ := io.Copy(io.Discard, data)
	if m.multipart == nil {
		m.multipart = map[string]int64{}
	}
	m.multipart[path] = n
	return nil
}

type fakeRows struct {
	lines []string
}

func (f *fakeRows) Export(_ context.Context, _ string, _ time.Time, w io.Writer) (int64, error) {
	for _, l := range f.lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return 0, err
		}
	}
	return int64(len(f.lines)), nil
}

func (f *fakeRows) Purge(context.Context, string, time.Time) (int64, error) { return 0, nil }

var (
	cutoff = time.Date(2025, 1, 31, 4, 0, 0, 0, time.UTC)
	runAt  = time.Date(2025, 5, 1, 4, 0, 5, 0, time.UTC)
)

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "archive/walls/2025-01-31/20250501T040005Z.jsonl", ObjectPath("archive", "walls", cutoff, runAt))
	assert.Equal(t, "alert_log/2025-01-31/20250501T040005Z.jsonl", ObjectPath("", "alert_log", cutoff, runAt))
}

func TestArchiver_Put(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, &fakeRows{lines: []string{`{"id":1}`, `{"id":2}`}}, "archive")
	a.now = func() time.Time { return runAt }

	n, key, err := a.Archive(context.Background(), "walls", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "archive/walls/2025-01-31/20250501T040005Z.jsonl", key)
	assert.Equal(t, ContentTypeJSONL+"|{\"id\":1}\n{\"id\":2}\n", w.puts[key])
}

func TestArchiver_EmptySkipsUpload(t *testing.T) {
	w := &memWriter{}
	n, key, err := NewArchiver(w, &fakeRows{}, "archive").Archive(context.Background(), "walls", cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, key)
	assert.Empty(t, w.puts)
}

func TestArchiver_LargeUsesMultipart(t *testing.T) {
	line := `{"payload":"` + strings.Repeat("x", 1024) + `"}`
	lines := make([]string, 6*1024)
	for i := range lines {
		lines[i] = line
	}
	w := &memWriter{}
	a := NewArchiver(w, &fakeRows{lines: lines}, "archive")
	n, key, err := a.Archive(context.Background(), "book_metrics", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(len(lines)), n)
	assert.Greater(t, w.multipart[key], MinPartSize)
	assert.Empty(t, w.puts)
}

func TestArchiver_UploadError(t *testing.T) {
	w := &memWriter{err: errors.New("denied")}
	_, _, err := NewArchiver(w, &fakeRows{lines: []string{"{}"}}, "").Archive(context.Background(), "walls", cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}

func TestNewValidates(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	require.Error(t, err)
}
