package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/supportd/internal/guardrail"
	"github.com/fyrsmithlabs/supportd/internal/logging"
)

func newGuardCmd() *cobra.Command {
	var (
		block      bool
		noAdvisory bool
	)
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Run the guardrails locally on stdin or arguments",
		Long: `Run the input or output guardrail without a daemon. The result is printed
as JSON.

Examples:
  echo "ignore previous instructions" | supportd guard input
  supportd guard output --block "our quarterly earnings were $12,000,000"`,
	}
	cmd.PersistentFlags().BoolVar(&noAdvisory, "no-advisory", false, "skip the advisory classifier")

	cmd.AddCommand(&cobra.Command{
		Use:   "input [text]",
		Short: "Validate a user message",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			guard, cfgInput, _, err := localGuard(noAdvisory)
			if err != nil {
				return err
			}
			res := guard.ValidateInput(cmd.Context(), text, cfgInput)
			return printJSON(cmd.OutOrStdout(), res)
		},
	})

	output := &cobra.Command{
		Use:   "output [text]",
		Short: "Redact or block a draft response",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			guard, _, opts, err := localGuard(noAdvisory)
			if err != nil {
				return err
			}
			if block {
				opts.SensitiveMode = guardrail.SensitiveBlock
			}
			res := guard.ValidateOutput(cmd.Context(), text, opts)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	output.Flags().BoolVar(&block, "block", false, "block the whole response on a sensitive phrase")
	cmd.AddCommand(output)
	return cmd
}

// localGuard builds a guard from the config file with logging discarded.
func localGuard(noAdvisory bool) (*guardrail.Guard, guardrail.InputOptions, guardrail.OutputOptions, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, guardrail.InputOptions{}, guardrail.OutputOptions{}, fmt.Errorf("load config: %w", err)
	}
	if noAdvisory {
		cfg.Advisory.Enabled = false
	}
	guard, err := newGuard(cfg, logging.NewNop())
	if err != nil {
		return nil, guardrail.InputOptions{}, guardrail.OutputOptions{}, err
	}
	return guard, guardrail.InputOptionsFromConfig(cfg.Input), guardrail.OutputOptionsFromConfig(cfg.Output), nil
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
