package main

import (
	"github.com/spf13/cobra"

	"github.com/woxQAQ/candid-extractor/internal/config"
	"github.com/woxQAQ/candid-extractor/internal/project"
)

func newBatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [manifest]",
		Short: "Extract every canister listed in a candid.yaml manifest",
		Long: `Extract every canister listed in a manifest and write each interface to
the canister's candid path. Canisters are extracted in parallel; a failing
canister does not stop the others, but the command exits non-zero.

Manifest format:

  canisters:
    - name: backend
      wasm: target/wasm32-unknown-unknown/release/backend.wasm
      candid: src/backend/backend.did`,
		Example: `  candid-extractor batch
  candid-extractor batch ./canisters/candid.yaml --jobs 8 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Manifest
			if len(args) == 1 {
				path = args[0]
			}

			manifest, err := project.ParseManifest(path)
			if err != nil {
				return err
			}

			x, err := a.extractor()
			if err != nil {
				return err
			}

			results, runErr := project.NewRunner(x, a.cfg.Jobs, a.logger).Run(cmd.Context(), manifest)

			rep := project.NewReport(manifest, results)
			if err := project.WriteReport(cmd.OutOrStdout(), a.cfg.Format, rep); err != nil {
				return err
			}

			// Per-canister errors are in the report; only the summary is returned.
			return runErr
		},
	}

	cmd.Flags().String("format", config.FormatText, "Report format (text, yaml, json)")
	cmd.Flags().Int("jobs", 4, "Number of modules extracted in parallel")
	cmd.Flags().String("manifest", project.DefaultManifestName, "Manifest used when no argument is given")

	return cmd
}
