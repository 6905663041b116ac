package domain

import "time"

// WallEventKind classifies a wall transition.
type WallEventKind string

const (
	WallNew       WallEventKind = "new"
	WallCancelled WallEventKind = "cancelled"
	WallFilled    WallEventKind = "filled"
	WallPartial   WallEventKind = "partial"
	// WallUnknown ends a wall whose level left the book without an observed
	// diff: missing from a resync snapshot, or pruned.
	WallUnknown WallEventKind = "unknown"
)

// Gone reports whether the event ends a wall.
func (k WallEventKind) Gone() bool {
	return k == WallCancelled || k == WallFilled || k == WallPartial || k == WallUnknown
}

// WallInfo is a wall currently tracked by a replica.
type WallInfo struct {
	ID            int64     `json:"id"` // persistence handle, 0 when not persisted
	Side          Side      `json:"side"`
	Price         string    `json:"price"`
	SizeBase      float64   `json:"size_base"`
	SizeQuote     float64   `json:"size_quote"`
	PeakSizeQuote float64   `json:"peak_size_quote"`
	DetectedAt    time.Time `json:"detected_at"`
}

// WallEvent is emitted by a single snapshot replay or diff application.
type WallEvent struct {
	Kind         WallEventKind
	Venue        Venue
	Side         Side
	Price        string
	PriceValue   float64
	OldSizeQuote float64
	NewSizeQuote float64
	NewSizeBase  float64
	PeakQuote    float64
	MidPrice     float64 // mid used for classification
	WallID       int64
	DetectedAt   time.Time
}

// WallStatus is the persisted lifecycle state of a wall.
type WallStatus string

const (
	WallStatusActive    WallStatus = "active"
	WallStatusCancelled WallStatus = "cancelled"
	WallStatusFilled    WallStatus = "filled"
	WallStatusPartial   WallStatus = "partial"
	WallStatusUnknown   WallStatus = "unknown"
)

// StatusFor maps a gone event to its persisted status.
func StatusFor(kind WallEventKind) WallStatus {
	switch kind {
	case WallCancelled:
		return WallStatusCancelled
	case WallFilled:
		return WallStatusFilled
	case WallPartial:
		return WallStatusPartial
	case WallUnknown:
		return WallStatusUnknown
	}
	return WallStatusActive
}

// WallRecord is the persisted form of a wall.
type WallRecord struct {
	ID               int64      `json:"id"`
	Venue            Venue      `json:"venue"`
	Side             Side       `json:"side"`
	Price            string     `json:"price"`
	SizeBase         float64    `json:"size_base"`
	SizeQuote        float64    `json:"size_quote"`
	PeakSizeQuote    float64    `json:"peak_size_quote"`
	Status           WallStatus `json:"status"`
	DetectedAt       time.Time  `json:"detected_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	EndReason        string     `json:"end_reason"`
	PriceAtDetection float64    `json:"price_at_detection"`
	PriceAtEnd       float64    `json:"price_at_end"`
	DistancePct      float64    `json:"distance_pct"`
}

// ConfirmedWall is a large wall near the mid that stood for the dwell time.
type ConfirmedWall struct {
	Venue       Venue     `json:"venue"`
	Side        Side      `json:"side"`
	Price       string    `json:"price"`
	PriceValue  float64   `json:"price_value"`
	SizeQuote   float64   `json:"size_quote"`
	DistancePct float64   `json:"distance_pct"`
	DetectedAt  time.Time `json:"detected_at"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
