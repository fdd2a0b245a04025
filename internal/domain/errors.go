package domain

import "errors"

var (
	// ErrNotFound is returned when a retailer yields no matching listing after every matching stage
	ErrNotFound = errors.New("no matching listing found")

	// ErrLookupFailure is returned when an external fetch or comparison capability fails
	ErrLookupFailure = errors.New("external lookup failed")

	// ErrHistoryWrite is returned when the price history archive cannot be persisted
	ErrHistoryWrite = errors.New("price history write failed")

	// ErrConfiguration is returned for invalid batch, rate or retailer settings
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNoReferencePrice is returned when neither a fresh quote nor a stored price exists for the current retailer
	ErrNoReferencePrice = errors.New("no reference price for current retailer")

	// ErrRunInProgress is returned when a run is requested while another one is active
	ErrRunInProgress = errors.New("run already in progress")

	// ErrCancelled marks products that were never evaluated because the run was cancelled
	ErrCancelled = errors.New("run cancelled before product was evaluated")

	// ErrUnknownRetailer is returned when no storefront profile exists for a retailer
	ErrUnknownRetailer = errors.New("unknown retailer")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrImageNotFound is returned when an image handle cannot be resolved
	ErrImageNotFound = errors.New("image not found")
)
