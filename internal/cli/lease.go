package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/lease"
)

// leaseRecord is the output of the lease commands.
type leaseRecord struct {
	Name     string    `json:"name"`
	Key      string    `json:"key"`
	Region   string    `json:"region"`
	Owner    string    `json:"owner"`
	Acquired bool      `json:"acquired"`
	Expires  time.Time `json:"expires"`
}

// leaseRow is one entry of the status listing.
type leaseRow struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	Expires   time.Time `json:"expires"`
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the lock table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrated, err := a.backend.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			msg := "Lock table is ready"
			if !migrated {
				msg = "Backend " + a.cfg.Backend + " needs no schema"
			}
			return a.output(cmd.OutOrStdout(), map[string]any{
				"backend":  a.cfg.Backend,
				"migrated": migrated,
			}, "%s", msg)
		},
	}
}

func (a *app) acquireCommand() *cobra.Command {
	var ttl, wait time.Duration

	cmd := &cobra.Command{
		Use:   "acquire NAME",
		Short: "Acquire a lease and keep it after exit",
		Long: `Acquire takes the lease on NAME for the configured owner. The lease
outlives the command; pass the printed owner with --owner to renew or
release it later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			c, err := a.client(ctx)
			if err != nil {
				return err
			}

			var ok bool
			if wait > 0 {
				ok, err = a.waitFor(ctx, c, name, wait, ttl)
			} else {
				ok, err = c.Acquire(ctx, name, ttl)
			}
			if err != nil {
				return err
			}
			if !ok {
				return errBusy
			}

			rec := a.record(name, c.ID(), ttl)
			return a.output(cmd.OutOrStdout(), rec,
				"Lock %q acquired\n  Owner: %s\n  Expires: %s",
				name, rec.Owner, rec.Expires.Format(time.RFC3339))
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease time to live (default from config)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "how long to wait for a busy lock")
	return cmd
}

func (a *app) renewCommand() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "renew NAME",
		Short: "Extend a lease held by --owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			ok, err := c.Renew(ctx, name, ttl)
			if err != nil {
				return err
			}
			if !ok {
				return errors.LostOwnership("lease for ${%s} is not held by this owner", name)
			}

			rec := a.record(name, c.ID(), ttl)
			return a.output(cmd.OutOrStdout(), rec,
				"Lock %q renewed, expires: %s", name, rec.Expires.Format(time.RFC3339))
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease time to live (default from config)")
	return cmd
}

func (a *app) releaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release NAME",
		Short: "Release a lease held by --owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			ok, err := c.Delete(ctx, name)
			if err != nil {
				return err
			}
			if !ok {
				return errors.LostOwnership("lease for ${%s} is not held by this owner", name)
			}
			return a.output(cmd.OutOrStdout(), map[string]any{
				"name":     name,
				"released": true,
			}, "Lock %q released", name)
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [NAME]",
		Short: "Show whether NAME is locked, or list the leases of the region",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				c, err := a.client(ctx)
				if err != nil {
					return err
				}
				locked, err := c.IsAcquired(ctx, args[0])
				if err != nil {
					return err
				}
				state := "free"
				if locked {
					state = "locked"
				}
				return a.output(w, map[string]any{
					"name":   args[0],
					"region": c.Region(),
					"locked": locked,
				}, "Lock %q: %s", args[0], state)
			}

			leases, err := a.backend.List(ctx, a.cfg.Region)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				rows := make([]leaseRow, 0, len(leases))
				for _, l := range leases {
					rows = append(rows, leaseRow{
						Key:       l.Key,
						Owner:     l.Owner,
						CreatedAt: l.CreatedAt,
						Expires:   l.ExpiredAfter,
					})
				}
				return a.output(w, rows, "")
			}
			if len(leases) == 0 {
				return a.output(w, nil, "No leases in region %s", a.cfg.Region)
			}
			for _, l := range leases {
				if err := a.output(w, nil, "%s  owner=%s  expires=%s",
					l.Key, l.Owner, l.ExpiredAfter.Format(time.RFC3339)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) gcCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete expired leases of the region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			n, err := c.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			return a.output(cmd.OutOrStdout(), map[string]any{
				"region":  c.Region(),
				"deleted": n,
			}, "Deleted %d expired lease(s)", n)
		},
	}
}

// waitFor polls for name until wait elapses. The lease stays in place
// when the command exits.
func (a *app) waitFor(ctx context.Context, c *lease.Client, name string, wait, ttl time.Duration) (bool, error) {
	r, err := a.registry(ctx, c)
	if err != nil {
		return false, err
	}
	defer r.Close()
	return r.Obtain(name).TryLockFor(ctx, wait, ttl)
}

func (a *app) record(name, owner string, ttl time.Duration) leaseRecord {
	if ttl <= 0 {
		ttl = a.cfg.TTL
	}
	return leaseRecord{
		Name:     name,
		Key:      lease.Key(name),
		Region:   a.cfg.Region,
		Owner:    owner,
		Acquired: true,
		Expires:  time.Now().Add(ttl).Truncate(time.Second),
	}
}
