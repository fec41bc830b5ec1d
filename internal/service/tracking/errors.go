package tracking

import "errors"

// Sentinel errors for the tracking service layer.
var (
	ErrNotFound = errors.New("tracking document not found")
	ErrEmptyKey = errors.New("tracking key is required")
)
