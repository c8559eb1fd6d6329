// Package cli implements the lockctl command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/enverbisevac/leaselock/config"
	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/internal/backend"
	"github.com/enverbisevac/leaselock/lease"
	"github.com/enverbisevac/leaselock/lock"
)

// Exit codes.
const (
	ExitOK            = 0
	ExitError         = 1
	ExitBusy          = 2
	ExitLostOwnership = 3
	ExitNotOwner      = 4
)

var errBusy = errors.New("lock is held by another owner")

// exitError carries the exit code of a child process.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.code)
}

type app struct {
	configPath string
	jsonOutput bool
	owner      string
	region     string
	verbosity  int

	cfg     config.Config
	backend *backend.Backend
	log     logr.Logger
}

// NewRootCommand builds the lockctl command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "lockctl",
		Short: "lockctl - inspect and drive lease based distributed locks",
		Long: `lockctl acquires, renews and releases leases in a shared lock table
and can run a command while holding a lock.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.BoolVar(&a.jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&a.owner, "owner", "", "owner token; required to renew or release a lease taken earlier")
	flags.StringVar(&a.region, "region", "", "lock region, overrides the config")
	flags.IntVarP(&a.verbosity, "verbose", "v", 0, "log verbosity")

	root.AddCommand(
		a.migrateCommand(),
		a.acquireCommand(),
		a.renewCommand(),
		a.releaseCommand(),
		a.statusCommand(),
		a.gcCommand(),
		a.execCommand(),
	)
	return root, a
}

// Execute runs lockctl and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root, a := newRoot()
	return a.execute(ctx, root, args)
}

func (a *app) execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.teardown(); err == nil {
		err = cerr
	}
	if err == nil {
		return ExitOK
	}

	var xerr *exitError
	if errors.As(err, &xerr) {
		return xerr.code
	}
	fmt.Fprintln(root.ErrOrStderr(), "lockctl:", err.Error())
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errBusy):
		return ExitBusy
	case errors.IsLostOwnership(err):
		return ExitLostOwnership
	case errors.IsNotOwner(err):
		return ExitNotOwner
	default:
		return ExitError
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.owner != "" {
		cfg.Owner = a.owner
	}
	if a.region != "" {
		cfg.Region = a.region
	}
	a.cfg = cfg

	verbosity := max(a.verbosity, cfg.Log.Verbosity)
	stdr.SetVerbosity(verbosity)
	a.log = stdr.New(stdlog.New(cmd.ErrOrStderr(), "", stdlog.LstdFlags))
	cmd.SetContext(logr.NewContext(cmd.Context(), a.log))

	a.backend, err = backend.Open(cmd.Context(), cfg)
	return err
}

// teardown closes the backend. Cobra skips post-run hooks when a command
// fails, so it runs from execute instead.
func (a *app) teardown() error {
	if a.backend == nil {
		return nil
	}
	err := a.backend.Close()
	a.backend = nil
	return err
}

// client returns a lease client for the configured owner and region.
func (a *app) client(ctx context.Context) (*lease.Client, error) {
	return lease.NewClient(ctx, a.backend.Store,
		lease.WithRegion(a.cfg.Region),
		lease.WithTTL(a.cfg.TTL),
		lease.WithOwner(a.cfg.Owner),
		lease.WithMaxRetries(a.cfg.MaxRetries),
	)
}

// registry returns a lock registry for c that is woken by release events
// when the backend supports them.
func (a *app) registry(ctx context.Context, c *lease.Client) (*lock.Registry, error) {
	ps, err := a.backend.PubSub(ctx)
	if err != nil {
		return nil, err
	}
	return lock.New(c,
		lock.WithCacheCapacity(a.cfg.CacheCapacity),
		lock.WithPubSub(ps),
	), nil
}

// output prints v as JSON when --json is set, otherwise text.
func (a *app) output(w io.Writer, v any, text string, args ...any) error {
	if a.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(w, text+"\n", args...)
	return err
}
