package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// FeedProbe reports whether a venue connection is up.
type FeedProbe interface {
	Venue() domain.Venue
	Connected() bool
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Problems returns every failing health condition, empty when healthy.
func (s *Scheduler) Problems(ctx context.Context) []string {
	var out []string
	for _, f := range s.deps.Feeds {
		if !f.Connected() {
			out = append(out, fmt.Sprintf("%s feed disconnected", f.Venue().Title()))
		}
	}
	for _, v := range s.deps.Books.Venues() {
		r, ok := s.deps.Books.Replica(v)
		if !ok {
			continue
		}
		st := r.Status()
		switch {
		case !st.Ready:
			out = append(out, fmt.Sprintf("%s book not synchronised", v.Title()))
		case st.BidLevels < s.cfg.MinHealthyLevels:
			out = append(out, fmt.Sprintf("%s book has %d bid levels", v.Title(), st.BidLevels))
		}
	}
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(ctx); err != nil {
			out = append(out, "database: "+err.Error())
		}
	}
	return out
}

// RunHealthcheck evaluates health and sends one system alert when the
// configured number of consecutive checks failed. It reports whether this
// check passed.
func (s *Scheduler) RunHealthcheck(ctx context.Context) bool {
	problems := s.Problems(ctx)

	s.mu.Lock()
	if len(problems) == 0 {
		s.failures = 0
		s.mu.Unlock()
		return true
	}
	s.failures++
	n := s.failures
	s.mu.Unlock()

	s.logger.Warn("healthcheck failed",
		slog.Int("consecutive", n),
		slog.String("problems", strings.Join(problems, "; ")),
	)
	if n == s.cfg.HealthcheckFailures {
		s.deps.Alerts.System(ctx, renderUnhealthy(n, problems))
	}
	return false
}

func renderUnhealthy(n int, problems []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🩺 HEALTHCHECK FAILING | %d checks in a row\n", n)
	for _, p := range problems {
		b.WriteString("• " + p + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
