package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/cfghost/internal/server/auth"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
	"github.com/dmitrijs2005/cfghost/internal/server/services"
)

func newMigrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending catalog migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, _, err := o.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			if err := cat.Migrate(cmd.Context()); err != nil {
				return err
			}
			v, err := cat.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			return o.print(cmd, versionInfo{Current: v, Known: cat.Known()}, func(t *table) {
				t.row("catalog migrated to version", v)
			})
		},
	}
}

type versionInfo struct {
	Current int64 `json:"current"`
	Known   int   `json:"known"`
}

func newVersionCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the catalog schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, _, err := o.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			v, err := cat.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			return o.print(cmd, versionInfo{Current: v, Known: cat.Known()}, func(t *table) {
				t.row("CURRENT", "KNOWN")
				t.row(v, cat.Known())
			})
		},
	}
}

func newListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List published configs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, _, err := o.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			entries, err := cat.ListEntries(cmd.Context())
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []*models.ConfigEntry{}
			}
			return o.print(cmd, entries, func(t *table) {
				t.row("ID", "NAME", "TYPE", "SIZE", "OWNER", "CREATED")
				for _, e := range entries {
					t.row(e.ID, e.Name, e.Type, e.Size, e.OwnerID, e.CreatedAt.Format(time.RFC3339))
				}
			})
		},
	}
}

func newCheckCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report catalog entries whose artifact is missing or corrupt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cat, _, err := o.openService(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			found, err := svc.Verify(cmd.Context())
			if err != nil {
				return err
			}
			if found == nil {
				found = []services.Inconsistency{}
			}
			if err := o.print(cmd, found, func(t *table) {
				t.row("KIND", "ID", "NAME", "KEY")
				for _, f := range found {
					t.row(f.Kind, f.Entry.ID, f.Entry.Name, f.Key)
				}
			}); err != nil {
				return err
			}
			if len(found) > 0 {
				return fmt.Errorf("%d inconsistencies found", len(found))
			}
			return nil
		},
	}
}

func newSweepCmd(o *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale staged uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cat, cfg, err := o.openService(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.StagingTTL
			}
			n, err := svc.Sweep(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			return o.print(cmd, map[string]int{"removed": n}, func(t *table) {
				t.row("removed staged uploads", n)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum age of a staged upload")
	return cmd
}

func newTokenCmd(o *options) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <owner>",
		Short: "Issue an owner token for uploads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			if cfg.SecretKey == "" {
				return fmt.Errorf("no secret key configured")
			}
			token, err := auth.GenerateToken(args[0], []byte(cfg.SecretKey), ttl)
			if err != nil {
				return err
			}
			return o.print(cmd, map[string]string{"owner": args[0], "token": token}, func(t *table) {
				t.row(token)
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&o.secret, "secret", "", "HMAC secret (defaults to the configured secret_key)")
	return cmd
}
