package reports

import "errors"

var (
	ErrNotFound = errors.New("report not found")
	ErrCorrupt  = errors.New("report corrupt")
)
