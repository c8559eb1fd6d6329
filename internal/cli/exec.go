package cli

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/lock"
)

func (a *app) execCommand() *cobra.Command {
	var ttl, wait time.Duration

	cmd := &cobra.Command{
		Use:   "exec NAME -- COMMAND [ARGS...]",
		Short: "Run a command while holding a lock",
		Long: `Exec acquires NAME, runs COMMAND and releases the lock when the
command exits. The lease is renewed every third of its TTL; if it is lost
the command is killed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if ttl <= 0 {
				ttl = a.cfg.TTL
			}
			return a.runLocked(ctx, cmd, args[0], args[1:], ttl, wait)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease time to live (default from config)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "how long to wait for the lock; 0 waits forever")
	return cmd
}

func (a *app) runLocked(ctx context.Context, cmd *cobra.Command, name string, argv []string, ttl, wait time.Duration) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("lock", name)

	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error(err, "close lease client")
		}
	}()
	ctx = lock.WithHolder(ctx, c.ID())

	r, err := a.registry(ctx, c)
	if err != nil {
		return err
	}
	defer r.Close()
	janitor := lock.NewJanitor(r, c,
		lock.WithInterval(a.cfg.Janitor.Interval),
		lock.WithMaxIdle(a.cfg.Janitor.MaxIdle),
	)
	janitor.Start(ctx)
	defer janitor.Stop()

	h := r.Obtain(name)
	if wait > 0 {
		ok, err := h.TryLockFor(ctx, wait, ttl)
		if err != nil {
			return err
		}
		if !ok {
			return errBusy
		}
	} else if err := h.LockTTL(ctx, ttl); err != nil {
		return err
	}
	log.V(1).Info("lock held, starting command", "command", argv[0])

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	var runErr error

	g.Go(func() error {
		return keepAlive(gctx, done, r, name, ttl)
	})
	g.Go(func() error {
		defer close(done)
		child := exec.CommandContext(gctx, argv[0], argv[1:]...)
		child.Stdin = cmd.InOrStdin()
		child.Stdout = cmd.OutOrStdout()
		child.Stderr = cmd.ErrOrStderr()
		runErr = child.Run()
		return nil
	})
	keepErr := g.Wait()

	unlockErr := h.Unlock(context.WithoutCancel(ctx))
	switch {
	case keepErr != nil:
		return keepErr
	case runErr != nil:
		var xerr *exec.ExitError
		if errors.As(runErr, &xerr) && xerr.ExitCode() > 0 {
			return &exitError{code: xerr.ExitCode()}
		}
		return runErr
	}
	return unlockErr
}

// keepAlive renews the lease every ttl/3 until done is closed. A failed
// renewal cancels ctx, which kills the command.
func keepAlive(ctx context.Context, done <-chan struct{}, r *lock.Registry, name string, ttl time.Duration) error {
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.RenewLock(ctx, name, ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
