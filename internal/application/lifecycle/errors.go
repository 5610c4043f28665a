package lifecycle

import (
	"errors"

	"github.com/blatr/idealista-notify-bot/internal/application/ledger"
)

var (
	ErrNotFound             = errors.New("Listing not found")
	ErrInvalidStage         = errors.New("Unknown stage")
	ErrIllegalTransition    = errors.New("Stage transition not allowed")
	ErrTerminalStage        = errors.New("Listing is in a terminal stage")
	ErrDuplicateFingerprint = errors.New("Listing is already tracked")
	ErrTransactionConflict  = errors.New("Board changed underneath the request, retry with fresh state")
	ErrStorageUnavailable   = errors.New("Storage unavailable")

	// ErrIncompleteSet is raised by the ledger when a bulk reorder does not
	// name the column's exact membership.
	ErrIncompleteSet = ledger.ErrIncompleteSet
)
