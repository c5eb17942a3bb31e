package factory

import (
	"errors"
	"fmt"

	"ammpool-backend/internal/pool"
)

var (
	ErrPoolNotFound = errors.New("pool not found")
	ErrNotOwner     = fmt.Errorf("caller is not the registry owner: %w", pool.ErrUnauthorized)
	ErrNotOperator  = fmt.Errorf("caller is not an operator: %w", pool.ErrUnauthorized)
	ErrPaused       = fmt.Errorf("registry is paused: %w", pool.ErrLifecycle)
)
