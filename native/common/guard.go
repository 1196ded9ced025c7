package common

import "errors"

// ErrModulePaused is returned when a mutating entry point is invoked while the
// governing pause switch is active.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause state for a named module flow.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module flow is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
