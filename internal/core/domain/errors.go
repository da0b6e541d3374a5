package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrFeatureNotFound = errors.New("feature not found")
	ErrInvalidSlot     = errors.New("invalid dataset slot")
)
