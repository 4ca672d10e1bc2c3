package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaycrm/import-cli/internal/importer"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/rowsource"
)

var (
	batchOwner       string
	batchGroup       string
	batchPolicyFile  string
	batchPolicyName  string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch <file-or-url>...",
	Short: "Import clients from multiple sources",
	Long: `Runs one import per source file concurrently. All files share the same
owner, group, and policy; each file gets its own run record.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		policy, err := resolveImportPolicy(ctx, env.Runs, batchOwner, batchPolicyFile, batchPolicyName)
		if err != nil {
			return err
		}

		concurrency := batchConcurrency
		if concurrency == 0 {
			concurrency = cfg.Batch.MaxConcurrentFiles
		}

		return processFiles(ctx, args, concurrency, func(ctx context.Context, file string) (*model.ImportRun, error) {
			src, cleanup, err := rowsource.Open(ctx, file, sourceOptions(), fetchOptions())
			if err != nil {
				return nil, err
			}
			defer cleanup()

			imp, err := importer.New(env.Clients, env.Runs, policy, importer.Options{
				OwnerID: batchOwner,
				GroupID: batchGroup,
				Source:  file,
			})
			if err != nil {
				return nil, err
			}
			return imp.Run(ctx, src)
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchOwner, "owner", "", "owner user ID (required)")
	batchCmd.Flags().StringVar(&batchGroup, "group", "", "current group ID for scope and group actions")
	batchCmd.Flags().StringVar(&batchPolicyFile, "policy", "", "path to a YAML policy file")
	batchCmd.Flags().StringVar(&batchPolicyName, "policy-name", "", "name of a stored policy")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max files imported concurrently (default from config)")
	_ = batchCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(batchCmd)
}

// importFunc runs a single file import and returns its finished run.
type importFunc func(ctx context.Context, file string) (*model.ImportRun, error)

// processFiles imports the given files concurrently. Individual file
// failures are logged and counted without aborting the batch.
func processFiles(ctx context.Context, files []string, concurrency int, runOne importFunc) error {
	if len(files) == 0 {
		zap.L().Info("no files to import")
		return nil
	}

	zap.L().Info("processing batch",
		zap.Int("files", len(files)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, aborted, failed atomic.Int64
	var created, updated, skipped atomic.Int64

	for _, file := range files {
		g.Go(func() error {
			log := zap.L().With(zap.String("file", file))

			run, err := runOne(gctx, file)
			if run != nil && run.Report != nil {
				created.Add(int64(run.Report.Created))
				updated.Add(int64(run.Report.Updated))
				skipped.Add(int64(run.Report.Skipped))
			}
			if err != nil {
				failed.Add(1)
				log.Error("import failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			if run.Status == model.RunStatusAborted {
				aborted.Add(1)
				log.Warn("import aborted by stop policy", zap.String("run_id", run.ID))
				return nil
			}

			succeeded.Add(1)
			log.Info("import complete",
				zap.String("run_id", run.ID),
				zap.String("summary", importer.Summary(run.Report)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("aborted", aborted.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int64("created", created.Load()),
		zap.Int64("updated", updated.Load()),
		zap.Int64("skipped", skipped.Load()),
	)
	return nil
}
