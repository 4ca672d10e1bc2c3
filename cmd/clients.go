package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaycrm/import-cli/internal/db"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/normalize"
	"github.com/relaycrm/import-cli/internal/rowsource"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Inspect and seed the client base",
}

// -- clients show --

var clientsShowCmd = &cobra.Command{
	Use:   "show <client-id>",
	Short: "Show a client record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Clients.GetClient(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "clients show")
		}
		if c == nil {
			return eris.Errorf("clients show: no client with id %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

// -- clients load --

var (
	clientsLoadOwner string
	clientsLoadBatch int
)

var clientsLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Bulk-seed the client base from a CSV export",
	Long: `Loads client rows over the COPY protocol, bypassing duplicate
resolution. Intended for the initial base load before incremental imports
take over. Requires the postgres driver.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Pool == nil {
			return eris.New("clients load: requires the postgres driver")
		}

		src, cleanup, err := rowsource.Open(ctx, args[0], sourceOptions(), fetchOptions())
		if err != nil {
			return eris.Wrap(err, "clients load: open source")
		}
		defer cleanup()

		loaded, skipped, err := bulkLoadClients(ctx, env, src, clientsLoadOwner, clientsLoadBatch)
		if err != nil {
			return eris.Wrap(err, "clients load")
		}

		zap.L().Info("client base loaded",
			zap.Int64("loaded", loaded),
			zap.Int("skipped", skipped),
			zap.String("file", args[0]),
		)
		return nil
	},
}

func init() {
	clientsLoadCmd.Flags().StringVar(&clientsLoadOwner, "owner", "", "owner user ID (required)")
	clientsLoadCmd.Flags().IntVar(&clientsLoadBatch, "batch-size", 1000, "rows per COPY batch")
	_ = clientsLoadCmd.MarkFlagRequired("owner")

	clientsCmd.AddCommand(clientsShowCmd)
	clientsCmd.AddCommand(clientsLoadCmd)
	rootCmd.AddCommand(clientsCmd)
}

// bulkLoadClients streams rows into the clients and client_phones tables
// in batches. Rows with no usable name or phone are skipped and counted.
func bulkLoadClients(ctx context.Context, env *importEnv, src rowsource.Source, ownerID string, batchSize int) (int64, int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	// Stop the producer if we bail out mid-stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	regionIDs := map[string]string{} // folded region name -> id

	var clientRows, phoneRows [][]any
	var loaded int64
	var skipped int

	flush := func() error {
		n, err := db.BulkUpsert(ctx, env.Pool, db.UpsertConfig{
			Table:        "clients",
			Columns:      []string{"id", "owner_id", "name", "name_folded", "status", "region_id", "created_at", "updated_at"},
			ConflictKeys: []string{"id"},
		}, clientRows)
		if err != nil {
			return err
		}
		loaded += n

		if _, err := db.BulkUpsert(ctx, env.Pool, db.UpsertConfig{
			Table:           "client_phones",
			Columns:         []string{"client_id", "phone", "position"},
			ConflictKeys:    []string{"client_id", "phone"},
			IgnoreConflicts: true,
		}, phoneRows); err != nil {
			return err
		}

		clientRows = clientRows[:0]
		phoneRows = phoneRows[:0]
		return nil
	}

	rowCh, errCh := src.Rows(ctx)
	for row := range rowCh {
		cand, _ := normalize.Row(row)
		if cand.Name == "" && len(cand.Phones) == 0 {
			skipped++
			continue
		}

		var regionID any
		if cand.Region != "" {
			folded := normalize.FoldName(cand.Region)
			id, ok := regionIDs[folded]
			if !ok {
				region, _, err := env.Clients.EnsureRegion(ctx, ownerID, cand.Region)
				if err != nil {
					return loaded, skipped, err
				}
				id = region.ID
				regionIDs[folded] = id
			}
			regionID = id
		}

		status := cand.Status
		if status == "" {
			status = model.ClientStatusNew
		}

		now := time.Now().UTC()
		clientID := uuid.New().String()
		clientRows = append(clientRows, []any{
			clientID, ownerID, cand.Name, normalize.FoldName(cand.Name), string(status), regionID, now, now,
		})
		for i, phone := range cand.Phones {
			phoneRows = append(phoneRows, []any{clientID, phone, i})
		}

		if len(clientRows) >= batchSize {
			if err := flush(); err != nil {
				return loaded, skipped, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return loaded, skipped, err
	}

	if len(clientRows) > 0 {
		if err := flush(); err != nil {
			return loaded, skipped, err
		}
	}

	return loaded, skipped, nil
}
