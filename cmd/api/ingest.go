package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/ingestion"
	"github.com/contract-intel/backend/pkg/logger"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.pdf>...",
		Short: "Index local PDF contracts using the configured backends",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			svc, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			uploads := make([]ingestion.Upload, len(args))
			for i, path := range args {
				uploads[i] = ingestion.FileUpload{Path: path}
			}

			result, err := svc.ingestion.Ingest(cmd.Context(), uploads)
			if result != nil {
				for _, name := range result.ProcessedFiles {
					fmt.Fprintf(cmd.OutOrStdout(), "indexed %s\n", name)
				}
			}
			if err != nil {
				return err
			}

			logger.Info("Ingestion finished",
				zap.Int("documents", len(result.ProcessedFiles)),
				zap.Int("chunks", result.Chunks),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%d chunks indexed\n", result.Chunks)
			return nil
		},
	}
}
