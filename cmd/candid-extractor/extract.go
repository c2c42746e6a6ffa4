package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woxQAQ/candid-extractor/internal/project"
)

func newExtractCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "extract <wasm-file>",
		Short: "Extract the Candid interface of one canister module",
		Example: `  candid-extractor extract backend.wasm
  candid-extractor extract backend.wasm --output backend.did --engine wazero`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := a.extractor()
			if err != nil {
				return err
			}

			text, err := x.ExtractFile(cmd.Context(), args[0])
			if err != nil {
				a.logger.Error("Extraction failed", zap.String("wasm", args[0]), zap.Error(err))
				return err
			}

			if output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}

			if err := project.WriteCandid(output, text); err != nil {
				return err
			}
			a.logger.Info("Candid interface written", zap.String("output", output))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the interface to this file instead of stdout")

	return cmd
}
