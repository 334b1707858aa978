package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"archsync/internal/graphsync"
)

func syncCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync [revision]",
		Short: "Run one sync pass of the architecture document into the graph",
		Long: `Parse the architecture document, upsert one Section per "## " heading,
remove sections that disappeared and refresh the full-text index.

The revision defaults to HEAD when ARCHSYNC_GIT_REPO is set, and to a
manual-<timestamp> label otherwise. Per-section failures are reported in the
summary and do not change the exit code.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if !cfg.GraphEnabled {
				log.Info("graph sync disabled, skipping", "document_path", cfg.DocumentPath)
				return nil
			}
			if err := cfg.ValidateForSync(); err != nil {
				return err
			}

			revision := ""
			if len(args) == 1 {
				revision = args[0]
			}

			rt, err := openRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, runErr := rt.service().RunSync(cmd.Context(), revision)
			if result.PassID != "" {
				if err := printResult(cmd.OutOrStdout(), result, asJSON); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the pass summary as JSON")
	return cmd
}

func printResult(w io.Writer, result graphsync.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(w, "pass %s  document=%s  revision=%s\n", result.PassID, result.DocumentID, result.Revision)
	fmt.Fprintf(w, "  parsed=%d created=%d updated=%d unchanged=%d deleted=%d failed=%d\n",
		result.Parsed, result.Created, result.Updated, result.Unchanged, result.Deleted, result.Failed)
	for _, slug := range result.RetainedSlugs {
		fmt.Fprintf(w, "  kept %s at its previous content\n", slug)
	}
	for _, failure := range result.Failures {
		fmt.Fprintf(w, "  failed %s %q (%s): %s\n", failure.Kind, failure.Title, failure.Slug, failure.Error)
	}
	for _, collision := range result.Collisions {
		fmt.Fprintf(w, "  collision %s: %v\n", collision.Slug, collision.Titles)
	}
	for _, slug := range result.DeletedSlugs {
		fmt.Fprintf(w, "  deleted %s\n", slug)
	}
	return nil
}
