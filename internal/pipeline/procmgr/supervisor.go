package procmgr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilnforge/agentpipe/internal/orchlog"
	"github.com/kilnforge/agentpipe/internal/pipeline/intent"
	"github.com/kilnforge/agentpipe/internal/pipeline/procevent"
)

// readChunkSize bounds a single Output event's payload. Chunk boundaries
// carry no semantic meaning (procevent.Output doc comment) — this is purely
// a memory-pressure knob.
const readChunkSize = 32 * 1024

// eventBufferCapacity is the per-run buffered events channel size, per
// SPEC_FULL.md §4.3's stated default. Since emit now blocks on a full
// channel, this bounds how far the OS-reading goroutine can run ahead of a
// slow consumer rather than bounding data loss.
const eventBufferCapacity = 128

// killBufferCapacity is the per-run kill-request channel size, per
// SPEC_FULL.md §4.3's stated default.
const killBufferCapacity = 4

// runSupervisor owns one child process end to end: spawn, stream output,
// race completion against a kill request, and emit the terminal event.
// Grounded on the teacher's client.BaseProcess goroutine layout (parseOutput
// / parseStderr / waitForCompletion), generalized from AI-provider JSON
// event parsing to raw byte streaming of an arbitrary child process.
type runSupervisor struct {
	runID intent.RunId
	cmd   *exec.Cmd

	events chan procevent.ProcessEvent
	killCh chan intent.KillReason

	killOnce  sync.Once
	seqStdout atomic.Uint64
	seqStderr atomic.Uint64

	startedAt time.Time
	priority  atomic.Int32 // intent.RunPriority, advisory only
}

func newRunSupervisor(runID intent.RunId, initialPriority intent.RunPriority) *runSupervisor {
	s := &runSupervisor{
		runID:  runID,
		events: make(chan procevent.ProcessEvent, eventBufferCapacity),
		killCh: make(chan intent.KillReason, killBufferCapacity),
	}
	s.priority.Store(int32(initialPriority))
	return s
}

// Events implements procevent.EventSubscriber.
func (s *runSupervisor) Events() <-chan procevent.ProcessEvent { return s.events }

// Kill implements procevent.KillHandle. Idempotent: only the first signal
// is honored, later calls are no-ops.
func (s *runSupervisor) Kill(reason intent.KillReason) {
	s.killOnce.Do(func() {
		s.killCh <- reason
	})
}

// Priority returns the supervisor's current advisory priority.
func (s *runSupervisor) Priority() intent.RunPriority {
	return intent.RunPriority(s.priority.Load())
}

// setPriority records a new advisory priority. Never touches the OS
// process — SPEC_FULL.md §9 resolves post-launch priority changes as
// advisory-only.
func (s *runSupervisor) setPriority(p intent.RunPriority) {
	s.priority.Store(int32(p))
}

// spawn launches the child described by req and returns once the process
// has been started (not once it has exited). On failure to start, a
// SpawnFailed event is pushed and the events channel is closed; the
// caller must not call run() in that case.
func (s *runSupervisor) spawn(ctx context.Context, req intent.ProcessSpawnIntent) bool {
	s.cmd = exec.CommandContext(ctx, req.Program, req.Args...)
	s.cmd.Dir = req.WorkingDir
	s.cmd.Env = buildEnv(req.Env)

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		s.failSpawn(err)
		return false
	}
	stderr, err := s.cmd.StderrPipe()
	if err != nil {
		s.failSpawn(err)
		return false
	}

	var stdin io.WriteCloser
	if req.Stdin != nil {
		stdin, err = s.cmd.StdinPipe()
		if err != nil {
			s.failSpawn(err)
			return false
		}
	}

	if err := s.cmd.Start(); err != nil {
		s.failSpawn(err)
		return false
	}

	if stdin != nil {
		payload := req.Stdin
		orchlog.SafeGo(fmt.Sprintf("procmgr.stdin.%s", s.runID), func() {
			defer stdin.Close()
			_, _ = stdin.Write(payload)
		})
	}

	s.startedAt = time.Now()
	go s.stream(stdout, procevent.Stdout, req.StreamStdout, &s.seqStdout)
	go s.stream(stderr, procevent.Stderr, req.StreamStderr, &s.seqStderr)
	return true
}

func (s *runSupervisor) failSpawn(err error) {
	s.emit(procevent.SpawnFailed{Run: s.runID, Message: err.Error()})
	close(s.events)
}

// stream reads one pipe to completion, publishing Output events when
// publish is true and otherwise discarding bytes so the child never blocks
// on a full, unread pipe.
func (s *runSupervisor) stream(r io.ReadCloser, kind procevent.OutputStream, publish bool, seq *atomic.Uint64) {
	defer r.Close()
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && publish {
			chunk := bytes.Clone(buf[:n])
			s.emit(procevent.Output{
				Run:      s.runID,
				Stream:   kind,
				Chunk:    chunk,
				Sequence: seq.Add(1) - 1,
			})
		}
		if err != nil {
			if err != io.EOF && publish {
				s.emit(procevent.OutputError{Run: s.runID, Stream: kind, Err: err})
			}
			return
		}
	}
}

// run blocks until the child exits or a Kill request wins the race,
// emitting the single terminal event and returning the lifecycle kind to
// report to the Middleware.
func (s *runSupervisor) run() procevent.LifecycleKind {
	waitDone := make(chan error, 1)
	orchlog.SafeGo(fmt.Sprintf("procmgr.wait.%s", s.runID), func() {
		waitDone <- s.cmd.Wait()
	})

	select {
	case err := <-waitDone:
		return s.finishExit(err)
	case reason := <-s.killCh:
		return s.finishKilled(reason, waitDone)
	}
}

func (s *runSupervisor) finishExit(waitErr error) procevent.LifecycleKind {
	exitCode := 0
	success := waitErr == nil
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	s.emit(procevent.Exit{
		Run:        s.runID,
		Success:    success,
		ExitCode:   exitCode,
		FinishedAt: time.Now(),
	})
	close(s.events)
	return procevent.Finished
}

func (s *runSupervisor) finishKilled(reason intent.KillReason, waitDone <-chan error) procevent.LifecycleKind {
	if s.cmd.Process != nil {
		if err := killOSProcess(s.cmd.Process.Pid); err != nil {
			orchlog.Warn(orchlog.CatProcess, "kill syscall failed", "run_id", s.runID, "error", err.Error())
		}
	}
	<-waitDone // reap; ignore the resulting error, the kill already explains it
	s.emit(procevent.Killed{Run: s.runID, Reason: reason, FinishedAt: time.Now()})
	close(s.events)
	return procevent.LifecycleKilled
}

// emit is a blocking send: a slow consumer applies back-pressure to the
// OS-reading goroutine rather than losing events, so the terminal event on
// every run's stream is guaranteed to be delivered.
func (s *runSupervisor) emit(e procevent.ProcessEvent) {
	s.events <- e
}

func buildEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
