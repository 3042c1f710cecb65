package actions

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAction is returned for nil or unrecognised actions. Nothing is written.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidAction is returned when an action's parameters fail validation.
	ErrInvalidAction = errors.New("invalid action")
	// ErrManualOnly means the issue has no automatic remedy.
	ErrManualOnly = errors.New("issue requires manual action")
	// ErrAlreadyFixed means the issue is already marked fixed.
	ErrAlreadyFixed = errors.New("issue already fixed")
	// ErrNoStockResults means a stock search returned nothing usable.
	ErrNoStockResults = errors.New("no stock photos found")
)

// FetchError means image bytes could not be downloaded or decoded.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("fetching image: %v", e.Err)
	}
	return fmt.Sprintf("fetching image %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// GenerationError means the content or image generator failed.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generating with %s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// MutationError means the catalog refused or failed the write.
type MutationError struct {
	ProductID string
	Err       error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("updating product %s: %v", e.ProductID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAction, fmt.Sprintf(format, args...))
}
