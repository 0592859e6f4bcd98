package queuemgr

import "errors"

// ErrChannelClosed names a closed command mailbox or Middleware channel.
// No QueueManager method returns it: Run simply returns if its command
// mailbox closes.
var ErrChannelClosed = errors.New("queuemgr: channel closed")

// ErrMiddlewareSend is returned when forwarding an intent to the
// Middleware fails (the Middleware's intent channel rejected it).
var ErrMiddlewareSend = errors.New("queuemgr: middleware send failed")

// ErrNotRunning is returned by the mailbox commands when the QueueManager
// was built without a MessageRepository. A command submitted before Run
// starts or after it returns is not rejected with it: the call waits until
// its context is done and returns the context's error.
var ErrNotRunning = errors.New("queuemgr: not running")

// ErrMessageNotFound is returned by DeleteMessageById when no message with
// the given id exists.
var ErrMessageNotFound = errors.New("queuemgr: message not found")

// DatabaseError wraps a persistence failure. Per SPEC_FULL.md §7, these are
// surfaced to the caller unchanged (wrapped, not swallowed).
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return "queuemgr: database: " + e.Op + ": " + e.Err.Error()
}

func (e *DatabaseError) Unwrap() error { return e.Err }
