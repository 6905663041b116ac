package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// listQuery appends the ListOpts filters, ordering and paging to base. base
// must end in a WHERE clause (use "WHERE TRUE" when there is nothing else to
// filter on). tsCol is the column the time range and ordering apply to.
func listQuery(base string, args []any, tsCol string, venueCol string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := len(args) + 1

	if opts.Venue != "" && venueCol != "" {
		fmt.Fprintf(&b, " AND %s = $%d", venueCol, next)
		args = append(args, string(opts.Venue))
		next++
	}
	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= $%d", tsCol, next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= $%d", tsCol, next)
		args = append(args, *opts.Until)
		next++
	}

	fmt.Fprintf(&b, " ORDER BY %s DESC", tsCol)

	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return b.String(), args
}
