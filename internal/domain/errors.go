package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyResolved     = errors.New("grant request already resolved")
	ErrDuplicate           = errors.New("duplicate grant request")
	ErrNotRestricted       = errors.New("item is not restricted")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrInvalidInput        = errors.New("invalid input")
)

// DuplicateError is returned when a (session, item) pair already has an
// outstanding grant request. Existing is the record that blocks the new one.
type DuplicateError struct {
	Existing GrantRequest
}

func (e *DuplicateError) Error() string {
	if e.Approved() {
		return fmt.Sprintf("item %s already approved for session %s (request %s)", e.Existing.ItemID, e.Existing.SessionID, e.Existing.ID)
	}
	return fmt.Sprintf("item %s already pending for session %s (request %s)", e.Existing.ItemID, e.Existing.SessionID, e.Existing.ID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// Approved reports whether the blocking record is an approved grant rather
// than a pending request.
func (e *DuplicateError) Approved() bool { return e.Existing.Status == GrantStatusApproved }

type NotRestrictedError struct {
	ItemID ItemID
	Tier   Tier
}

func (e *NotRestrictedError) Error() string {
	return fmt.Sprintf("item %s has tier %q and needs no authorization", e.ItemID, e.Tier)
}

func (e *NotRestrictedError) Is(target error) bool { return target == ErrNotRestricted }

// StoreFailure tags err as a persistence-layer failure.
func StoreFailure(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}

// ProviderFailure tags err as an external-provider failure.
func ProviderFailure(err error) error {
	if err == nil || errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return errors.Join(ErrProviderUnavailable, err)
}
