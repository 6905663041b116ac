package confirm

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

type fakeBook struct {
	size, dist float64
	present    bool
}

func (f *fakeBook) CheckWall(domain.Side, string) (float64, float64, bool) {
	return f.size, f.dist, f.present
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newChecker() (*Checker, *clock) {
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New(Config{ThresholdQuote: 5_000_000, MaxDistancePct: 2, Delay: 60 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = clk.now
	return c, clk
}

func bigWall() domain.WallEvent {
	return domain.WallEvent{
		Kind:         domain.WallNew,
		Venue:        domain.VenueFutures,
		Side:         domain.SideBid,
		Price:        "99000.00",
		PriceValue:   99_000,
		NewSizeQuote: 6_000_000,
		MidPrice:     100_000,
	}
}

func TestConfirmationRequiresDwell(t *testing.T) {
	c, clk := newChecker()
	book := &fakeBook{size: 6_000_000, dist: -1, present: true}
	books := map[domain.Venue]LevelReader{domain.VenueFutures: book}

	require.True(t, c.OnWallDetected(bigWall()))

	clk.t = clk.t.Add(59 * time.Second)
	assert.Empty(t, c.CheckConfirmations(books))

	clk.t = clk.t.Add(time.Second)
	got := c.CheckConfirmations(books)
	require.Len(t, got, 1)
	assert.Equal(t, "99000.00", got[0].Price)
	assert.Equal(t, 99_000.0, got[0].PriceValue)
	assert.Equal(t, -1.0, got[0].DistancePct)

	clk.t = clk.t.Add(time.Minute)
	assert.Empty(t, c.CheckConfirmations(books))

	// Already confirmed: a fresh detection is ignored.
	assert.False(t, c.OnWallDetected(bigWall()))
	pending, confirmed := c.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, confirmed)
}

func TestDetectionFilters(t *testing.T) {
	c, _ := newChecker()

	small := bigWall()
	small.NewSizeQuote = 4_000_000
	assert.False(t, c.OnWallDetected(small))

	far := bigWall()
	far.Price, far.PriceValue = "97000.00", 97_000
	assert.False(t, c.OnWallDetected(far))

	pending, _ := c.Counts()
	assert.Equal(t, 0, pending)
}

func TestRecheckDropsInvalidWalls(t *testing.T) {
	tests := []struct {
		name string
		book fakeBook
	}{
		{"gone", fakeBook{present: false}},
		{"shrunk", fakeBook{size: 4_000_000, dist: -1, present: true}},
		{"drifted", fakeBook{size: 6_000_000, dist: -2.5, present: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newChecker()
			require.True(t, c.OnWallDetected(bigWall()))
			clk.t = clk.t.Add(2 * time.Minute)

			book := tt.book
			got := c.CheckConfirmations(map[domain.Venue]LevelReader{domain.VenueFutures: &book})
			assert.Empty(t, got)
			pending, confirmed := c.Counts()
			assert.Zero(t, pending)
			assert.Zero(t, confirmed)
		})
	}
}

func TestOnWallGone(t *testing.T) {
	c, clk := newChecker()
	detectedAt := clk.t
	require.True(t, c.OnWallDetected(bigWall()))

	// Gone while pending: nothing to report.
	_, ok := c.OnWallGone(bigWall())
	assert.False(t, ok)

	require.True(t, c.OnWallDetected(bigWall()))
	clk.t = clk.t.Add(time.Minute)
	book := &fakeBook{size: 7_000_000, dist: -1, present: true}
	require.Len(t, c.CheckConfirmations(map[domain.Venue]LevelReader{domain.VenueFutures: book}), 1)

	cw, ok := c.OnWallGone(bigWall())
	require.True(t, ok)
	assert.Equal(t, detectedAt, cw.DetectedAt)
	assert.Equal(t, 7_000_000.0, cw.SizeQuote)

	_, ok = c.OnWallGone(bigWall())
	assert.False(t, ok)
}
