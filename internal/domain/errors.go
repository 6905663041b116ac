package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrFeedSilent          = errors.New("feed silent")
	ErrSequenceGap         = errors.New("depth update sequence gap")
	ErrStaleDiff           = errors.New("depth update already covered")
	ErrNotReady            = errors.New("order book not synchronised")
	ErrSnapshotUnavailable = errors.New("depth snapshot unavailable")
	ErrUnknownVenue        = errors.New("unknown venue")
	ErrMalformedMessage    = errors.New("malformed message")
)
