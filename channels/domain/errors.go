package domain

import "errors"

var (
	// ErrUnknownChannel indica que no hay adaptador registrado para el canal
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNormalization indica que el adaptador no pudo parsear el payload
	ErrNormalization = errors.New("inbound payload normalization failed")
)
