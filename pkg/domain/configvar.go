package domain

import "time"

// ConfigVar is an environment variable defined by users.
//
// (ModuleID, Key, Scope) is unique.
type ConfigVar struct {
	ID       string
	ModuleID string

	// _global_, or the stage of EnvironmentID
	Scope EnvScope

	// empty when Scope is global.
	EnvironmentID string

	Key         string
	Value       string
	Description string
	IsSensitive bool
	IsBuiltin   bool

	UpdatedAt time.Time
}
