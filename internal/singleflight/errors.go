package singleflight

import "errors"

// ErrInProgress is returned by TryDo when another call holds the key.
var ErrInProgress = errors.New("singleflight: call in progress")
