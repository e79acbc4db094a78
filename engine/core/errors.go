package core

import (
	"errors"
)

var (
	ErrDegenerateViewMatrix = errors.New("view matrix is not invertible")
)
