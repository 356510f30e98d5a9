package database

import "errors"

// ErrNotReady is wrapped into the startup log when the first ping fails.
var ErrNotReady = errors.New("database: not ready")
