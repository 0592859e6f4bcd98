package middleware

import "errors"

// ErrNotRunning names a Middleware whose Run loop has not been started or
// has already stopped. No Middleware method returns it: Ingest reports a
// Middleware that is not running by returning false.
var ErrNotRunning = errors.New("middleware: not running")

// ErrIntentChannelClosed names a closed upstream intent channel. No
// Middleware method returns it: Run simply returns when the intent channel
// closes.
var ErrIntentChannelClosed = errors.New("middleware: intent channel closed")
