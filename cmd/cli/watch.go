package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch directories and analyze files as they appear",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		logger.Debug("config", slog.Any("config", conf))
		conf.Paths = append(conf.Paths, args...)
		err = initHandler(cmd, args)
		if err != nil {
			return
		}
		if err = vetHandler.Start(cmd.Context()); err != nil {
			return fmt.Errorf("could not start handler, err: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if e := vetHandler.Stop(stopCtx); e != nil {
				logger.Error("error stopping handler", slog.String("error", e.Error()))
			}
		}()
		if err = vetHandler.Watch(); err != nil {
			return fmt.Errorf("could not watch paths, err: %w", err)
		}
		<-cmd.Context().Done()
		return
	},
	Args: checkFiles,
}
