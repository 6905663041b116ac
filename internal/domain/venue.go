package domain

import "fmt"

// Venue identifies one market of the instrument. The derivatives venue chains
// depth updates through a previous-update pointer; spot chains them by
// consecutive sequence numbers.
type Venue string

const (
	VenueFutures Venue = "futures"
	VenueSpot    Venue = "spot"
)

// Venues lists every venue in a stable order.
var Venues = []Venue{VenueFutures, VenueSpot}

// ParseVenue validates a venue name.
func ParseVenue(s string) (Venue, error) {
	switch Venue(s) {
	case VenueFutures, VenueSpot:
		return Venue(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVenue, s)
}

// Derivatives reports whether the venue uses pu-chained depth updates.
func (v Venue) Derivatives() bool { return v == VenueFutures }

// Title returns the capitalised venue name for messages.
func (v Venue) Title() string {
	switch v {
	case VenueFutures:
		return "Futures"
	case VenueSpot:
		return "Spot"
	}
	return string(v)
}

// Side is a book side.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)
