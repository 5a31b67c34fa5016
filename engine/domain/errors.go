package domain

import "errors"

var (
	// ErrProviderNotRegistered indica que se pidió un proveedor desconocido
	ErrProviderNotRegistered = errors.New("provider not registered")

	// ErrProviderUnavailable indica que todos los proveedores configurados fallaron
	ErrProviderUnavailable = errors.New("no AI provider available")
)
