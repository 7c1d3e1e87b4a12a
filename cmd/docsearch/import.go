package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/canonical/docsearch/internal/extract"
	"github.com/canonical/docsearch/internal/importer"
	"github.com/canonical/docsearch/internal/manual"
	"github.com/canonical/docsearch/internal/search"
)

func newImportCmd(opts *globalOptions) *cobra.Command {
	var (
		prefix string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "import [folder...]",
		Short: "Import manuals into the search index",
		Long: `Import the given manual folders, or every manual below docs_root when no
folder is given. Relative folders are resolved against docs_root. Manuals
whose files did not change since the last import are skipped unless --force
is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, met, err := opts.load()
			if err != nil {
				return err
			}
			defer opts.writeMetrics(logger)
			ctx := cmd.Context()

			idx, err := search.NewSQLiteIndexer(ctx, cfg.IndexPath(), met)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			runner := &importer.Runner{
				Indexer:     idx,
				Extractor:   extract.New(cfg.ContentClass, cfg.SectionClass, logger),
				Logger:      logger,
				Metrics:     met,
				FailuresDir: cfg.FailuresDir,
				Force:       force,
			}

			if len(args) == 0 {
				manuals, err := manual.Discover(cfg.DocsRoot, prefix)
				if err != nil {
					return err
				}
				logger.Info("discovered manuals", "count", len(manuals), "prefix", prefix)
				err = runner.Run(ctx, manuals)
				printStatuses(cmd, runner)
				return err
			}

			folders := make([]string, 0, len(args))
			for _, arg := range args {
				if !filepath.IsAbs(arg) {
					arg = filepath.Join(cfg.DocsRoot, arg)
				}
				folders = append(folders, arg)
			}
			err = runner.RunPaths(ctx, cfg.DocsRoot, folders)
			printStatuses(cmd, runner)
			return err
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only import manuals below this slug prefix (e.g. c/vendor)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-import manuals even if their files are unchanged")
	return cmd
}

func printStatuses(cmd *cobra.Command, runner *importer.Runner) {
	for _, st := range runner.Statuses() {
		cmd.Printf("%-60s %-10s files=%d sections=%d errors=%d\n", st.Slug, st.Stage, st.Done, st.Sections, st.Errors)
	}
	if failures := runner.Failures(); len(failures) > 0 {
		cmd.Printf("%d failures\n", len(failures))
	}
}
