package domain

import "errors"

var (
	// ErrBackendUnavailable indica que o backend de contadores não respondeu
	ErrBackendUnavailable = errors.New("counter backend unavailable")

	// ErrScriptNotFound indica que o servidor não tem mais o script em cache
	ErrScriptNotFound = errors.New("script not found on server")

	ErrPolicyNotFound  = errors.New("policy not found")
	ErrInvalidPolicy   = errors.New("invalid policy")
	ErrInvalidIdentity = errors.New("invalid identity")
)
