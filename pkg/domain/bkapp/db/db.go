package db

import "context"

// Interface stores which source manages each field of module manifests.
type Interface interface {
	// GetFieldManager returns the manager of the field.
	//
	// Unmanaged fields are not errors, returning empty string.
	GetFieldManager(ctx context.Context, moduleID string, field string) (string, error)

	// CompareAndSetFieldManager sets the manager of the field
	// when the field is unmanaged or already managed by the manager.
	//
	// Return:
	//
	// - bool: true if the manager is set.
	CompareAndSetFieldManager(ctx context.Context, moduleID string, field string, manager string) (bool, error)

	// SetFieldManager sets the manager of the field regardless of the current manager.
	SetFieldManager(ctx context.Context, moduleID string, field string, manager string) error

	// ResetFieldManager makes the field unmanaged, only when it is managed by the manager.
	//
	// Return:
	//
	// - bool: true if the field was managed by the manager and is reset.
	ResetFieldManager(ctx context.Context, moduleID string, field string, manager string) (bool, error)
}
