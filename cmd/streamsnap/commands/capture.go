package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/StreamSnap/internal/api"
	"github.com/bryanchriswhite/StreamSnap/internal/capture"
	"github.com/bryanchriswhite/StreamSnap/internal/config"
	"github.com/bryanchriswhite/StreamSnap/internal/logger"
	"github.com/bryanchriswhite/StreamSnap/internal/output"
	"github.com/bryanchriswhite/StreamSnap/internal/stream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture frames from the stream until stopped",
	Long: `Open the configured video stream and save one frame every interval as
<save_dir>/<YYYYMMDD_HHMMSS>.jpg.

The run ends when the stream stops yielding frames or on Ctrl+C. Failing to
open the stream is reported and exits with status 1.`,
	Example: `  # Capture with the configured stream and defaults (every 60s)
  streamsnap capture

  # Capture from a specific camera every 20 seconds
  streamsnap capture --url http://192.168.137.50:5000/video_feed --interval 20

  # Save into another directory and expose the status API
  streamsnap capture --dir /srv/greenhouse --status-addr :8080`,
	RunE:         runCapture,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("url", "", "stream URL (MJPEG or snapshot endpoint)")
	captureCmd.Flags().String("dir", "", "directory captured images are saved to")
	captureCmd.Flags().Int("interval", 0, "seconds between saved frames")
	captureCmd.Flags().Int("quality", 0, "JPEG quality (1-100)")
	captureCmd.Flags().String("status-addr", "", "serve the status API on this address (e.g. :8080)")

	viper.BindPFlag("stream_url", captureCmd.Flags().Lookup("url"))
	viper.BindPFlag("save_dir", captureCmd.Flags().Lookup("dir"))
	viper.BindPFlag("interval_seconds", captureCmd.Flags().Lookup("interval"))
	viper.BindPFlag("jpeg_quality", captureCmd.Flags().Lookup("quality"))
	viper.BindPFlag("status_addr", captureCmd.Flags().Lookup("status-addr"))
}

func runCapture(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Flags given on the command line win over file and environment
	if err := applyOverrides(configMgr, viper.GetViper()); err != nil {
		return err
	}

	cfg, err := configMgr.Get()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.InitTo(cmd.OutOrStdout(), cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("cli")
	log.Debug().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []capture.Option{}
	if cfg.StatusAddr != "" {
		statusSrv := api.NewServer(api.Info{
			StreamURL: cfg.StreamURL,
			SaveDir:   cfg.SaveDir,
			Interval:  cfg.Interval().String(),
		})
		go func() {
			if err := statusSrv.Start(cfg.StatusAddr); err != nil {
				log.Error().Err(err).Str("addr", cfg.StatusAddr).Msg("Status server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := statusSrv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Status server shutdown failed")
			}
		}()
		opts = append(opts, capture.WithNotifier(statusSrv))
	}

	loop := newLoop(cfg, opts...)
	res, err := loop.Run(ctx)
	if err != nil {
		return err
	}

	log.Debug().
		Str("state", string(res.State)).
		Int("saved", res.Saved).
		Msg("Capture finished")
	return nil
}

// applyOverrides copies every key explicitly set on v into the manager
func applyOverrides(configMgr *config.Manager, v *viper.Viper) error {
	for _, key := range config.Keys() {
		if !v.IsSet(key) {
			continue
		}
		if err := configMgr.Set(key, v.Get(key)); err != nil {
			return err
		}
	}
	return nil
}

// newLoop wires the stream opener and JPEG output for cfg
func newLoop(cfg *config.Config, opts ...capture.Option) *capture.Loop {
	streamOpts := stream.Options{OpenTimeout: cfg.OpenTimeout()}
	opener := func(ctx context.Context, url string) (capture.Source, error) {
		h, err := stream.Open(ctx, url, streamOpts)
		if err != nil {
			return nil, err
		}
		return h, nil
	}

	out := output.NewJPEGFileOutput(output.Config{
		Dir:     cfg.SaveDir,
		Quality: cfg.JPEGQuality,
	})

	return capture.New(capture.Config{
		StreamURL: cfg.StreamURL,
		Interval:  cfg.Interval(),
	}, opener, out, opts...)
}
