package tracking

import "errors"

var (
	ErrNoActiveSession = errors.New("no active tracking session")
	ErrSessionNotFound = errors.New("tracking session not found")
	ErrAlreadyOnSite   = errors.New("medic already on site")
	ErrNotOnSite       = errors.New("medic not on site")
	ErrSessionMismatch = errors.New("session does not belong to caller")
	ErrInvalidFix      = errors.New("invalid position fix")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrLowQualityFix   = errors.New("fix accuracy too low to classify")
)
