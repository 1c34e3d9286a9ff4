package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze files, folders or s3:// locations",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if err = initHandler(cmd, args); err != nil {
			return
		}
		if err = vetHandler.Start(cmd.Context()); err != nil {
			return
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if e := vetHandler.Stop(stopCtx); e != nil {
				logger.Error("error stopping handler", slog.String("error", e.Error()))
			}
		}()
		if len(args) == 0 {
			args = conf.Paths
		}
		for _, arg := range args {
			if err = vetHandler.ScanPath(cmd.Context(), arg); err != nil {
				logger.Error("error during analysis", slog.String("file", arg), slog.String("error", err.Error()))
				return
			}
		}
		vetHandler.Wait()
		if !conf.Quiet {
			stats := vetHandler.Orchestrator.Stats()
			fmt.Fprintf(os.Stdout, "%d files analyzed, %d malicious, %d served from cache\n",
				stats.Analyses, stats.Malicious, stats.CacheHits)
		}
		return
	},
	Args: checkFiles,
}
