package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/relaycrm/import-cli/internal/importer"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/rowsource"
	"github.com/relaycrm/import-cli/internal/store"
)

var (
	importOwner      string
	importGroup      string
	importPolicyFile string
	importPolicyName string
	importSheet      string
	importSheetIndex int
	importDelimiter  string
	importNoHeader   bool
	importNameCol    int
	importPhoneCol   int
	importRegionCol  int
	importStatusCol  int
	importOutput     string
	importMaxErrors  int
)

var importCmd = &cobra.Command{
	Use:   "import <file-or-url>",
	Short: "Import clients from a CSV or XLSX source",
	Long: `Reads client rows from a local file or a remote URL (http, https, ftp)
and imports them into the client base, resolving duplicates per policy.

Examples:
  # Local CSV with the default policy
  import-cli import clients.csv --owner u-42

  # Remote file into a specific group, using a stored policy
  import-cli import https://crm.example.com/export.xlsx --owner u-42 --group g-7 --policy-name strict

  # Policy from a YAML file, report written to disk
  import-cli import clients.csv --owner u-42 --policy policy.yaml --out report.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		policy, err := resolveImportPolicy(ctx, env.Runs, importOwner, importPolicyFile, importPolicyName)
		if err != nil {
			return err
		}

		source := args[0]
		src, cleanup, err := rowsource.Open(ctx, source, sourceOptions(), fetchOptions())
		if err != nil {
			return eris.Wrap(err, "import: open source")
		}
		defer cleanup()

		imp, err := importer.New(env.Clients, env.Runs, policy, importer.Options{
			OwnerID: importOwner,
			GroupID: importGroup,
			Source:  source,
		})
		if err != nil {
			return err
		}

		run, runErr := imp.Run(ctx, src)
		if run != nil {
			printRowIssues(run.Report)
			if err := writeRunJSON(run, importOutput); err != nil {
				return err
			}
		}
		if runErr != nil {
			return runErr
		}
		if run.Status == model.RunStatusAborted {
			return eris.New("import: run aborted by stop policy")
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importOwner, "owner", "", "owner user ID (required)")
	importCmd.Flags().StringVar(&importGroup, "group", "", "current group ID for scope and group actions")
	importCmd.Flags().StringVar(&importPolicyFile, "policy", "", "path to a YAML policy file")
	importCmd.Flags().StringVar(&importPolicyName, "policy-name", "", "name of a stored policy")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	importCmd.Flags().IntVar(&importSheetIndex, "sheet-index", 0, "XLSX sheet index")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV field delimiter (default ',' or tab for .tsv)")
	importCmd.Flags().BoolVar(&importNoHeader, "no-header", false, "treat the first row as data, not a header")
	importCmd.Flags().IntVar(&importNameCol, "name-col", 0, "0-based name column (-1 = absent)")
	importCmd.Flags().IntVar(&importPhoneCol, "phone-col", 1, "0-based phone column (-1 = absent)")
	importCmd.Flags().IntVar(&importRegionCol, "region-col", 2, "0-based region column (-1 = absent)")
	importCmd.Flags().IntVar(&importStatusCol, "status-col", 3, "0-based status column (-1 = absent)")
	importCmd.Flags().StringVar(&importOutput, "out", "", "write the run record JSON to file (default: stdout)")
	importCmd.Flags().IntVar(&importMaxErrors, "max-errors", 20, "max row errors to print (0 = all)")
	_ = importCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(importCmd)
}

// sourceOptions builds rowsource options from the import flags.
func sourceOptions() rowsource.Options {
	opts := rowsource.Options{
		Columns: rowsource.Columns{
			Name:   importNameCol,
			Phone:  importPhoneCol,
			Region: importRegionCol,
			Status: importStatusCol,
		},
		HasHeader:  !importNoHeader,
		SheetIndex: importSheetIndex,
		SheetName:  importSheet,
	}
	if importDelimiter != "" {
		opts.Delimiter = []rune(importDelimiter)[0]
	}
	return opts
}

// resolveImportPolicy picks the policy for a run: a YAML file wins over a
// stored policy, which wins over the built-in default. Requesting both
// is ambiguous and rejected.
func resolveImportPolicy(ctx context.Context, runs store.Store, ownerID, policyFile, policyName string) (model.ImportConfig, error) {
	if policyFile != "" && policyName != "" {
		return model.ImportConfig{}, eris.New("import: --policy and --policy-name are mutually exclusive")
	}

	switch {
	case policyFile != "":
		return readPolicyFile(policyFile)
	case policyName != "":
		stored, err := runs.GetPolicy(ctx, ownerID, policyName)
		if err != nil {
			return model.ImportConfig{}, eris.Wrap(err, "import: load stored policy")
		}
		if stored == nil {
			return model.ImportConfig{}, eris.Errorf("import: no stored policy named %q", policyName)
		}
		return *stored, nil
	default:
		return model.DefaultImportConfig(), nil
	}
}

// readPolicyFile parses a YAML policy. A file without a name keyword
// inherits the file's base name.
func readPolicyFile(path string) (model.ImportConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ImportConfig{}, eris.Wrap(err, "import: read policy file")
	}

	// Unset keys inherit the default policy.
	policy := model.DefaultImportConfig()
	policy.Name = ""
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return model.ImportConfig{}, eris.Wrap(err, "import: parse policy file")
	}
	if policy.Name == "" {
		policy.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return policy, nil
}

// printRowIssues writes row errors and warnings to stderr.
func printRowIssues(report *model.ImportReport) {
	if report == nil {
		return
	}
	if s := importer.FormatErrors(report, importMaxErrors); s != "" {
		fmt.Fprintln(os.Stderr, "Row errors:")
		fmt.Fprintln(os.Stderr, s)
	}
	if s := importer.FormatWarnings(report, importMaxErrors); s != "" {
		fmt.Fprintln(os.Stderr, "Warnings:")
		fmt.Fprintln(os.Stderr, s)
	}
}

// writeRunJSON writes the finished run record to the output file or stdout.
func writeRunJSON(run *model.ImportRun, outPath string) error {
	var w *os.File
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return eris.Wrap(err, "import: create output file")
		}
		defer f.Close() //nolint:errcheck
		w = f
	} else {
		w = os.Stdout
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}
