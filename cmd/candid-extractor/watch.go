package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woxQAQ/candid-extractor/internal/project"
	"github.com/woxQAQ/candid-extractor/internal/watch"
)

func newWatchCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "watch <wasm-file>",
		Short: "Re-extract the interface every time the module is rebuilt",
		Long: `Extract the interface once and again after every change to the module.
Failures are logged and watching continues. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := a.extractor()
			if err != nil {
				return err
			}

			w := watch.New(x, args[0], a.logger)
			return w.Run(cmd.Context(), func(text string, err error) {
				if err != nil {
					a.logger.Error("Extraction failed", zap.String("wasm", args[0]), zap.Error(err))
					return
				}

				if output == "" {
					fmt.Fprintln(cmd.OutOrStdout(), text)
					return
				}

				if err := project.WriteCandid(output, text); err != nil {
					a.logger.Error("Failed to write interface", zap.Error(err))
					return
				}
				a.logger.Info("Candid interface updated", zap.String("output", output))
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the interface to this file instead of stdout")

	return cmd
}
