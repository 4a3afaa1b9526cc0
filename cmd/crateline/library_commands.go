package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sydlexius/crateline/internal/store"
)

func newImportCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import PATH",
		Short: "Import a DJ-library collection (master database or XML export)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				sum, err := rt.service.RefreshLibrary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, sum)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tracks (%d new, %d removed)\n",
					sum.Imported, sum.Created, sum.Removed)
				return err
			})
		},
	}
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	var filter store.StatusFilter

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the reconciliation status of the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				page, err := rt.service.ListStatus(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, page)
				}
				return renderStatus(cmd, page)
			})
		},
	}

	f := cmd.Flags()
	f.BoolVar(&filter.MissingAssetsOnly, "missing", false, "Only tracks without an available local file")
	f.BoolVar(&filter.UnresolvedDiscogsOnly, "unresolved-discogs", false, "Only tracks without a Discogs match")
	f.BoolVar(&filter.UnresolvedMusicBrainzOnly, "unresolved-musicbrainz", false, "Only tracks without a MusicBrainz match")
	f.BoolVar(&filter.LikedOnly, "liked", false, "Only liked tracks")
	f.BoolVar(&filter.RekordboxOnly, "rekordbox", false, "Only tracks present in the DJ library")
	f.IntVar(&filter.Limit, "limit", store.DefaultStatusLimit, "Maximum rows to return")
	f.IntVar(&filter.Offset, "offset", 0, "Rows to skip")
	return cmd
}

func renderStatus(cmd *cobra.Command, page *store.StatusPage) error {
	rows := make([][]string, 0, len(page.Rows))
	for _, r := range page.Rows {
		rows = append(rows, []string{
			r.TrackID,
			r.Title,
			r.Artist,
			yesNo(r.Liked),
			yesNo(r.LocalAvailable),
			yesNo(r.InRekordbox),
			orDash(r.MusicBrainzStatus),
			orDash(r.DiscogsStatus),
		})
	}
	if err := writeTable(cmd,
		[]string{"Track", "Title", "Artist", "Liked", "Local", "Rekordbox", "MusicBrainz", "Discogs"},
		rows, nil); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d of %d tracks (offset %d)\n", len(page.Rows), page.Total, page.Offset)
	return err
}

func newMissingCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "missing",
		Short: "List tracks without an available local file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				ids, err := rt.service.ListMissingAssets(cmd.Context())
				if err != nil {
					return err
				}
				if ids == nil {
					ids = []string{}
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, ids)
				}
				rows := make([][]string, 0, len(ids))
				for i, id := range ids {
					rows = append(rows, []string{strconv.Itoa(i + 1), id})
				}
				return writeTable(cmd, []string{"#", "Track"}, rows, []columnAlignment{alignRight, alignLeft})
			})
		},
	}
}
