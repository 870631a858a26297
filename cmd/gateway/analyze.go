package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mealscan-gateway/internal/analysis"
	"mealscan-gateway/internal/apperr"
	"mealscan-gateway/internal/auth"
	"mealscan-gateway/internal/nutrition"
	"mealscan-gateway/pkg/logging/logging"
)

type analyzeFlags struct {
	hint   string
	caller string
}

type analyzeOutput struct {
	Cached   bool              `json:"cached"`
	Provider string            `json:"provider"`
	Attempts int               `json:"attempts"`
	Fallback bool              `json:"fallback"`
	Result   *nutrition.Result `json:"result"`
}

func newAnalyzeCmd(flags *rootFlags) *cobra.Command {
	af := &analyzeFlags{}

	cmd := &cobra.Command{
		Use:   "analyze <image-file>",
		Short: "Run the analysis pipeline on a local image and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			logger := logging.NewLoggerWith(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
			defer logger.Sync()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}

			resp, err := a.service.Analyze(logging.WithLogger(ctx, logger), analysis.Request{
				CallerID:     af.caller,
				Raw:          data,
				CategoryHint: strings.ToLower(strings.TrimSpace(af.hint)),
			})

			// Flush the record before exiting.
			if closeErr := a.close(context.Background()); closeErr != nil {
				logger.Warn("pipeline shutdown error", zap.Error(closeErr))
			}
			if err != nil {
				return fmt.Errorf("%s: %s", apperr.KindOf(err), apperr.MessageOf(err))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(analyzeOutput{
				Cached:   resp.Cached,
				Provider: resp.Provider,
				Attempts: resp.Attempts,
				Fallback: resp.Fallback,
				Result:   resp.Result,
			})
		},
	}

	cmd.Flags().StringVar(&af.hint, "hint", "", "meal category hint (breakfast, lunch, dinner, snack)")
	cmd.Flags().StringVar(&af.caller, "caller", auth.AnonymousCaller, "caller id charged by the rate limiter")
	return cmd
}
