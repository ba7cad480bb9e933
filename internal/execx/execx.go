package execx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by Capture when the context ends before the process
// exits.
var ErrTimeout = errors.New("process did not finish in time")

type Cmd struct {
	exec.Cmd

	lock         *sync.RWMutex
	processState *os.ProcessState
	waitErr      error
	doneChan     chan struct{}
	started      bool
}

func Command(name string, arg ...string) *Cmd {
	return &Cmd{
		Cmd:      *exec.Command(name, arg...),
		doneChan: make(chan struct{}, 1),
		lock:     &sync.RWMutex{},
	}
}

func (c *Cmd) Start() error {
	if c.Cmd.SysProcAttr == nil {
		c.Cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	// Put the child in its own process group so a kill reaches its children too.
	c.Cmd.SysProcAttr.Setpgid = true

	err := c.Cmd.Start()
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.started = true
	c.lock.Unlock()
	go func() {
		err := c.Cmd.Wait()
		c.lock.Lock()
		c.processState = c.Cmd.ProcessState
		c.waitErr = err
		c.lock.Unlock()
		c.doneChan <- struct{}{}
	}()
	return nil
}

func (c *Cmd) Wait() error {
	<-c.doneChan
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.waitErr
}

func (c *Cmd) Running() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.started && c.processState == nil
}

func (c *Cmd) ExitCode() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.processState != nil {
		return c.processState.ExitCode()
	}
	return -1
}

// Shutdown interrupts the process group. If the provided context is cancelled
// before it exits the group is killed with SIGKILL.
func (c *Cmd) Shutdown(ctx context.Context) error {
	{
		c.lock.RLock()
		if !c.started {
			c.lock.RUnlock()
			return fmt.Errorf("Cmd not running")
		}
		c.lock.RUnlock()
	}

	killSignal := os.Interrupt
	if err := syscall.Kill(-c.Cmd.Process.Pid, syscall.SIGINT); err != nil {
		return err
	}
	var err error

	select {
	case <-c.doneChan:
		err = c.waitErr
	case <-ctx.Done():
		killSignal = os.Kill
		_ = syscall.Kill(-c.Cmd.Process.Pid, syscall.SIGKILL)
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		select {
		case <-c.doneChan:
			err = c.waitErr
		case <-ctx.Done():
			// Grandchildren in their own process group can keep the output
			// pipes open, which blocks Wait. See
			// https://github.com/golang/go/issues/23019
			err = fmt.Errorf("process did not exit")
		}
		cancel()
	}
	if er, match := err.(*exec.ExitError); match {
		// Exiting because of the signal we sent is not a failure.
		if ws, ok := er.Sys().(syscall.WaitStatus); ok && ws.Signaled() &&
			ws.Signal() == killSignal.(syscall.Signal) {
			return nil
		}
	}
	return err
}

// Result is what a finished (or abandoned) process left behind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Capture starts the command, collects stdout and stderr and waits for it to
// exit. If ctx ends first the process is interrupted, then killed after
// grace, and ErrTimeout is returned. A non-zero exit returns the
// *exec.ExitError alongside the populated Result.
func (c *Cmd) Capture(ctx context.Context, grace time.Duration) (Result, error) {
	stdout, stderr := &lockedBuffer{}, &lockedBuffer{}
	c.Stdout, c.Stderr = stdout, stderr

	result := func() Result {
		return Result{ExitCode: c.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
	}

	if err := c.Start(); err != nil {
		return result(), errors.Wrapf(err, "starting %s", c.Path)
	}

	select {
	case <-c.doneChan:
		c.lock.RLock()
		err := c.waitErr
		c.lock.RUnlock()
		return result(), err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		_ = c.Shutdown(shutdownCtx)
		cancel()
		return result(), errors.Wrapf(ErrTimeout, "%s: %v", c.Path, ctx.Err())
	}
}

type lockedBuffer struct {
	buf  bytes.Buffer
	lock sync.Mutex
}

func (lb *lockedBuffer) Write(b []byte) (int, error) {
	lb.lock.Lock()
	defer lb.lock.Unlock()
	return lb.buf.Write(b)
}

func (lb *lockedBuffer) String() string {
	lb.lock.Lock()
	defer lb.lock.Unlock()
	return lb.buf.String()
}
