package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/relaycrm/import-cli/internal/model"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage stored import policies",
	Long:  "Commands for creating, listing, viewing, and deleting named import policies.",
}

// -- policy create --

var (
	policyCreateOwner string
	policyCreateFile  string
)

var policyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Store a policy from a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		policy, err := readPolicyFile(policyCreateFile)
		if err != nil {
			return err
		}
		policy.OwnerID = policyCreateOwner

		if err := policy.Validate(); err != nil {
			return eris.Wrap(err, "policy create: invalid policy")
		}

		if err := env.Runs.SavePolicy(ctx, &policy); err != nil {
			return eris.Wrap(err, "policy create")
		}

		zap.L().Info("policy stored",
			zap.String("name", policy.Name),
			zap.String("owner", policy.OwnerID),
		)
		return nil
	},
}

// -- policy list --

var policyListOwner string

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored policies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		policies, err := env.Runs.ListPolicies(ctx, policyListOwner)
		if err != nil {
			return eris.Wrap(err, "policy list")
		}

		if len(policies) == 0 {
			fmt.Fprintln(os.Stderr, "No policies found.")
			return nil
		}

		formatPolicyList(os.Stdout, policies)
		return nil
	},
}

// -- policy show --

var (
	policyShowOwner  string
	policyShowFormat string
)

var policyShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a stored policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		policy, err := env.Runs.GetPolicy(ctx, policyShowOwner, args[0])
		if err != nil {
			return eris.Wrap(err, "policy show")
		}
		if policy == nil {
			return eris.Errorf("policy show: no policy named %q", args[0])
		}

		if policyShowFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(policy)
		}

		out, err := yaml.Marshal(policy)
		if err != nil {
			return eris.Wrap(err, "policy show: marshal")
		}
		fmt.Print(string(out))
		return nil
	},
}

// -- policy delete --

var policyDeleteOwner string

var policyDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Runs.DeletePolicy(ctx, policyDeleteOwner, args[0]); err != nil {
			return eris.Wrap(err, "policy delete")
		}

		zap.L().Info("policy deleted",
			zap.String("name", args[0]),
			zap.String("owner", policyDeleteOwner),
		)
		return nil
	},
}

func init() {
	policyCreateCmd.Flags().StringVar(&policyCreateOwner, "owner", "", "owner user ID (required)")
	policyCreateCmd.Flags().StringVar(&policyCreateFile, "file", "", "path to a YAML policy file (required)")
	_ = policyCreateCmd.MarkFlagRequired("owner")
	_ = policyCreateCmd.MarkFlagRequired("file")

	policyListCmd.Flags().StringVar(&policyListOwner, "owner", "", "owner user ID (required)")
	_ = policyListCmd.MarkFlagRequired("owner")

	policyShowCmd.Flags().StringVar(&policyShowOwner, "owner", "", "owner user ID (required)")
	policyShowCmd.Flags().StringVar(&policyShowFormat, "format", "yaml", "output format: yaml or json")
	_ = policyShowCmd.MarkFlagRequired("owner")

	policyDeleteCmd.Flags().StringVar(&policyDeleteOwner, "owner", "", "owner user ID (required)")
	_ = policyDeleteCmd.MarkFlagRequired("owner")

	policyCmd.AddCommand(policyCreateCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyDeleteCmd)
	rootCmd.AddCommand(policyCmd)
}

// formatPolicyList writes a tabular list of policies to w.
func formatPolicyList(out io.Writer, policies []model.ImportConfig) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCRITERIA\tSCOPES\tON MATCH\tON MISS\tON INVALID\tUPDATED")
	_, _ = fmt.Fprintln(w, "----\t--------\t------\t--------\t-------\t----------\t-------")

	for _, p := range policies {
		scopes := make([]string, len(p.SearchScope.Scopes))
		for i, s := range p.SearchScope.Scopes {
			scopes[i] = string(s)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Name,
			p.SearchScope.MatchCriteria,
			strings.Join(scopes, ","),
			p.DuplicateAction.DefaultAction,
			p.NoDuplicateAction,
			p.Validation.ErrorHandling,
			p.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
