package domain

import "errors"

var ErrInvalidFlow = errors.New("invalid flow definition")
