package consts

import "errors"

var (
	// ErrNotFound is returned when a referenced entity is absent from the store.
	ErrNotFound = errors.New("not found")
	// ErrEmptyStore is returned by the daemon when it is started against a store
	// which was never bootstrapped.
	ErrEmptyStore = errors.New("store is empty, bootstrap required")
	// ErrPoisonMessage marks an event which cannot be parsed; such events are
	// committed and counted, never reprocessed.
	ErrPoisonMessage = errors.New("poison message")
)
