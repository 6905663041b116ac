package notify

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Chunk splits text into pieces of at most limit runes, breaking on newlines
// where possible. A single line longer than limit is hard-split. Pieces that
// are only newlines are dropped.
func Chunk(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n <= limit {
			cur.WriteString(line)
			curLen += n
			continue
		}
		flush()
		for n > limit {
			head, tail := splitRunes(line, limit)
			chunks = append(chunks, head)
			line = tail
			n -= limit
		}
		cur.WriteString(line)
		curLen = n
	}
	flush()

	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimRight(c, "\n"); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
