package taskgraph

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

// Runner executes compiled tasks. It is safe for concurrent use. Within one
// Run a task reached through several paths executes once and every path
// waits for it; a task held by another Run cannot be entered until it
// finishes.
type Runner struct {
	nodes map[string]*node
	names []string

	lock    sync.Mutex
	running map[string]*run
}

// run is the state of one Run call.
type run struct {
	lock    sync.Mutex
	results map[*node]*result
}

type result struct {
	done chan struct{}
	err  error
}

// Tasks returns every task name in sorted order.
func (r *Runner) Tasks() []string {
	return append([]string(nil), r.names...)
}

// Plan describes how name will execute.
func (r *Runner) Plan(name string) (string, error) {
	n, ok := r.nodes[name]
	if !ok {
		return "", errors.Wrapf(ErrUnknownTask, "%q", name)
	}
	var sb strings.Builder
	n.describe(&sb)
	return sb.String(), nil
}

// Run executes name and everything it is composed of. The first action to
// fail aborts the run: series stop, parallel siblings see a cancelled
// context. Work that already finished is left as it is.
func (r *Runner) Run(ctx context.Context, name string) error {
	n, ok := r.nodes[name]
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "%q", name)
	}
	return r.exec(ctx, &run{results: map[*node]*result{}}, n)
}

func (r *Runner) acquire(name string, owner *run) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.running[name] != nil {
		return false
	}
	r.running[name] = owner
	return true
}

func (r *Runner) release(name string) {
	r.lock.Lock()
	delete(r.running, name)
	r.lock.Unlock()
}

// exec runs n once per run. Later callers in the same run wait for the
// first one and share its error.
func (r *Runner) exec(ctx context.Context, cur *run, n *node) error {
	cur.lock.Lock()
	if res, ok := cur.results[n]; ok {
		cur.lock.Unlock()
		select {
		case <-res.done:
			return res.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	res := &result{done: make(chan struct{})}
	cur.results[n] = res
	cur.lock.Unlock()

	res.err = r.execOnce(ctx, cur, n)
	close(res.done)
	return res.err
}

func (r *Runner) execOnce(ctx context.Context, cur *run, n *node) error {
	if !r.acquire(n.name, cur) {
		return errors.Wrapf(ErrTaskInFlight, "%q", n.name)
	}
	defer r.release(n.name)

	if err := ctx.Err(); err != nil {
		return err
	}

	switch n.kind {
	case KindSeries:
		for _, m := range n.members {
			if err := r.exec(ctx, cur, m); err != nil {
				return err
			}
		}
		return nil
	case KindParallel:
		eg, ctx := errgroup.WithContext(ctx)
		for _, m := range n.members {
			m := m
			eg.Go(func() error { return r.exec(ctx, cur, m) })
		}
		return eg.Wait()
	}

	start := time.Now()
	slog.Info("Starting task", "task", n.name)
	if err := n.action(ctx); err != nil {
		slog.Error("Task failed", "task", n.name, "after", time.Since(start), "err", err)
		return &TaskError{Task: n.name, Err: err}
	}
	slog.Info("Finished task", "task", n.name, "after", time.Since(start))
	return nil
}
