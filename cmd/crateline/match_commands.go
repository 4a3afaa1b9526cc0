package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/store"
)

func newCandidatesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates CATALOG TRACK_ID",
		Short: "List the stored candidates of an ambiguous match",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				cands, err := rt.service.ListCandidates(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if cands == nil {
					cands = []store.CandidateRecord{}
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, cands)
				}
				rows := make([][]string, 0, len(cands))
				for _, c := range cands {
					rows = append(rows, []string{orDash(c.ReleaseID), formatScore(c.Score), candidateTitle(c.RawPayload)})
				}
				return writeTable(cmd, []string{"Release", "Score", "Title"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft})
			})
		},
	}
}

func candidateTitle(raw json.RawMessage) string {
	var doc struct {
		Title string `json:"title"`
	}
	if json.Unmarshal(raw, &doc) != nil {
		return ""
	}
	return doc.Title
}

// verdictOutput is the printable form of a lookup verdict.
type verdictOutput struct {
	Catalog    string              `json:"catalog"`
	TrackID    string              `json:"track_id"`
	Outcome    catalog.Outcome     `json:"outcome"`
	Query      string              `json:"query,omitempty"`
	ReleaseID  string              `json:"release_id,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
	Candidates []catalog.Candidate `json:"candidates,omitempty"`
	Message    string              `json:"message,omitempty"`
	CheckedAt  time.Time           `json:"checked_at"`
}

func newRetryCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry CATALOG TRACK_ID",
		Short: "Look a stored track up again and record the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				v, err := rt.service.ResolveNow(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				out := verdictOutput{
					Catalog:    args[0],
					TrackID:    args[1],
					Outcome:    v.Outcome,
					Query:      v.Query,
					ReleaseID:  v.ReleaseID,
					Confidence: v.Confidence,
					Candidates: v.Candidates,
					Message:    v.Message,
					CheckedAt:  v.CheckedAt,
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, out)
				}
				return renderVerdict(cmd, out)
			})
		},
	}
}

func renderVerdict(cmd *cobra.Command, v verdictOutput) error {
	w := cmd.OutOrStdout()
	switch v.Outcome {
	case catalog.OutcomeSuccess:
		_, err := fmt.Fprintf(w, "%s: matched release %s (confidence %.1f)\n", v.TrackID, v.ReleaseID, v.Confidence)
		return err
	case catalog.OutcomeAmbiguous:
		if _, err := fmt.Fprintf(w, "%s: %d candidates, confirm one with `crateline confirm`\n", v.TrackID, len(v.Candidates)); err != nil {
			return err
		}
		rows := make([][]string, 0, len(v.Candidates))
		for _, c := range v.Candidates {
			rows = append(rows, []string{c.ReleaseID, fmt.Sprintf("%.1f", c.Score), c.Title})
		}
		return writeTable(cmd, []string{"Release", "Score", "Title"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft})
	default:
		_, err := fmt.Fprintf(w, "%s: no match: %s\n", v.TrackID, v.Message)
		return err
	}
}

func newConfirmCommand(flags *globalFlags) *cobra.Command {
	var (
		confidence float64
		query      string
	)

	cmd := &cobra.Command{
		Use:   "confirm CATALOG TRACK_ID RELEASE_JSON",
		Short: "Record a release chosen by hand as the track's match",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			release := json.RawMessage(args[2])
			if !json.Valid(release) {
				return errors.New("release must be a JSON document")
			}
			var conf *float64
			if cmd.Flags().Changed("confidence") {
				conf = &confidence
			}
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				if err := rt.service.ConfirmMatch(cmd.Context(), args[0], args[1], release, conf, query); err != nil {
					return err
				}
				m, err := rt.service.GetMatch(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if wantJSON(cmd, flags) {
					return writeJSON(cmd, m)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: confirmed release %s (confidence %s)\n",
					m.TrackID, m.ReleaseID, formatScore(m.Confidence))
				return err
			})
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Confidence to record (defaults to the release score, then 100)")
	cmd.Flags().StringVar(&query, "query", "", "Query string to record with the match")
	return cmd
}
