package domain

import "errors"

var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrActionNotFound = errors.New("plugin action not found")
)
