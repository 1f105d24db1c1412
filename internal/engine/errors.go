package engine

import "errors"

var (
	ErrNoSurfaces          = errors.New("register at least one surface first")
	ErrSessionRunning      = errors.New("a session is already running")
	ErrNotRunning          = errors.New("no session is running")
	ErrInternalSurface     = errors.New("browser-internal pages cannot be registered")
	ErrInvalidSurface      = errors.New("surface has no usable address")
	ErrAlreadyRegistered   = errors.New("surface is already registered")
	ErrUnknownSurface      = errors.New("surface is not registered")
	ErrNoActiveSurface     = errors.New("no surface is focused")
	ErrReasonRequired      = errors.New("an adjustment needs a reason")
	ErrDuplicateAdjustment = errors.New("adjustment already applied")
	ErrUnknownInput        = errors.New("unknown input")
)
