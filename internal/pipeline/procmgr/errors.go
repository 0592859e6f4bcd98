package procmgr

import "errors"

// ErrRunNotActive names a run the Process Manager has no record of
// (already finished, or never launched). handleKill does not return it: a
// Kill directive for such a run is logged and ignored.
var ErrRunNotActive = errors.New("procmgr: run not active")

// ErrAlreadySpawning is a defensive sentinel for a RunId reused while its
// prior supervisor is still active; the pipeline's RunId generation makes
// this unreachable in practice.
var ErrAlreadySpawning = errors.New("procmgr: run id already active")
