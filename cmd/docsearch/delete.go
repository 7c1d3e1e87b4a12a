package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/docsearch/internal/manual"
	"github.com/canonical/docsearch/internal/search"
)

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	var c search.Constraints
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove documents from the search index",
		Long: `Remove every document matching the given constraints. A version constraint
matches documents whose version set contains it. Without any constraint the
whole index is cleared.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, met, err := opts.load()
			if err != nil {
				return err
			}
			defer opts.writeMetrics(logger)
			start := time.Now()

			idx, err := search.NewSQLiteIndexer(cmd.Context(), cfg.IndexPath(), met)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			if c.IsEmpty() {
				logger.Warn("no constraints given, removing all documents")
			}
			removed, err := idx.DeleteByConstraints(cmd.Context(), c)
			if err != nil {
				return err
			}
			cmd.Printf("Removed %d documents in %s\n", removed, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&c.Slug, "manual-slug", "", "Manual slug (e.g. c/vendor/name/12.4/en-us)")
	cmd.Flags().StringVar(&c.Version, "manual-version", "", "Manual version")
	cmd.Flags().StringVar(&c.Type, "manual-type", "", "Manual type (e.g. \"system extension\")")
	cmd.Flags().StringVar(&c.Language, "manual-language", "", "Manual language (e.g. en-us)")
	return cmd
}

func newDeleteManualCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-manual <folder>",
		Short: "Remove one manual version from the search index",
		Long: `Remove the version of the manual stored in folder. Documents shared with
other versions of the same manual keep those versions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, met, err := opts.load()
			if err != nil {
				return err
			}
			defer opts.writeMetrics(logger)
			folder := args[0]
			if !filepath.IsAbs(folder) {
				folder = filepath.Join(cfg.DocsRoot, folder)
			}
			m, err := manual.Parse(folder, cfg.DocsRoot)
			if err != nil {
				return err
			}

			idx, err := search.NewSQLiteIndexer(cmd.Context(), cfg.IndexPath(), met)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			res, err := idx.DeleteManual(cmd.Context(), m)
			if err != nil {
				return err
			}
			cmd.Printf("%s: deleted %d, updated %d documents\n", m.Slug, res.Deleted, res.Updated)
			return nil
		},
	}
}
