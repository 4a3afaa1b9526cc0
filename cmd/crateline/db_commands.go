package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sydlexius/crateline/internal/backup"
)

func newBackupCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the database and prune old backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				info, err := rt.backups.Backup(cmd.Context())
				if err != nil {
					return err
				}
				pruned, err := rt.backups.Prune()
				if err != nil {
					return err
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, struct {
						*backup.Info
						Pruned int `json:"pruned"`
					}{info, pruned})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s), pruned %d\n",
					info.Path, humanize.IBytes(uint64(info.Size)), pruned) //nolint:gosec // G115: sizes are non-negative
				return err
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				list, err := rt.backups.List()
				if err != nil {
					return err
				}
				if list == nil {
					list = []backup.Info{}
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, list)
				}
				rows := make([][]string, 0, len(list))
				for _, b := range list {
					rows = append(rows, []string{
						b.Filename,
						humanize.IBytes(uint64(b.Size)), //nolint:gosec // G115: sizes are non-negative
						humanize.Time(b.CreatedAt),
					})
				}
				return writeTable(cmd, []string{"Backup", "Size", "Created"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft})
			})
		},
	})
	return cmd
}

func newDBCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and maintain the database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show database size and match counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				st, err := rt.maint.Status(cmd.Context())
				if err != nil {
					return err
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, st)
				}
				rows := [][]string{
					{"Database", rt.cfg.Database.Path},
					{"File size", humanize.IBytes(uint64(st.DBFileSize))},  //nolint:gosec // G115: sizes are non-negative
					{"WAL size", humanize.IBytes(uint64(st.WALFileSize))}, //nolint:gosec // G115: sizes are non-negative
					{"Pages", strconv.FormatInt(st.PageCount, 10)},
					{"Free pages", strconv.FormatInt(st.FreelistCount, 10)},
					{"Tracks", strconv.FormatInt(st.Tracks, 10)},
				}
				for _, name := range []string{"musicbrainz", "discogs"} {
					c := st.Matches[name]
					rows = append(rows, []string{
						name,
						fmt.Sprintf("%d matched, %d ambiguous, %d failed", c["success"], c["ambiguous"], c["error"]),
					})
				}
				return writeTable(cmd, []string{"Key", "Value"}, rows, nil)
			})
		},
	})

	var vacuum bool
	optimize := &cobra.Command{
		Use:   "optimize",
		Short: "Run PRAGMA optimize and checkpoint the WAL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				if err := rt.maint.Optimize(cmd.Context()); err != nil {
					return err
				}
				if vacuum {
					if err := rt.maint.Vacuum(cmd.Context()); err != nil {
						return err
					}
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Database optimized")
				return err
			})
		},
	}
	optimize.Flags().BoolVar(&vacuum, "vacuum", false, "Also rebuild the database file")
	cmd.AddCommand(optimize)
	return cmd
}
