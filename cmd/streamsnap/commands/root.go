package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bryanchriswhite/StreamSnap/internal/capture"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "streamsnap",
		Short: "StreamSnap - Save timestamped frames from a network video stream",
		Long: `StreamSnap connects to an HTTP video stream (MJPEG or a snapshot
endpoint) and saves one frame every interval as a timestamped JPEG.

Features:
  • Motion JPEG and single-image snapshot sources
  • Files named YYYYMMDD_HHMMSS.jpg in the output directory
  • Clean stop on Ctrl+C or when the stream ends
  • Optional HTTP status API with a live event feed
  • YAML configuration with environment and flag overrides`,
		SilenceErrors: true,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/streamsnap/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "human-readable console logs instead of JSON")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

// Execute runs the root command
func Execute() {
	if code := execute(os.Stderr); code != 0 {
		os.Exit(code)
	}
}

func execute(stderr io.Writer) int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	if !alreadyLogged(err) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

// alreadyLogged reports start-up failures the capture loop has logged itself
func alreadyLogged(err error) bool {
	return errors.Is(err, capture.ErrStreamOpen) || errors.Is(err, capture.ErrOutput)
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
