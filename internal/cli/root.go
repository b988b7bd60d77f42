package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/config"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/logging"
)

var (
	cfgFile string
	jsonOut bool
	verbose bool

	cfg       *config.Config
	logger    = zap.NewNop()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Play Jamendo and Spotify tracks from the terminal",
	Long: `Tandem is a terminal music player. It plays Jamendo tracks locally through
mpv and drives Spotify Connect devices through the Spotify Web API, behind
one set of playback controls.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		return initLogging(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.tandemrc)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// initLogging writes to the configured file, or to data-dir/tandem.log for
// commands that own the terminal. --verbose adds debug output on stderr for
// line-oriented commands.
func initLogging(cmd *cobra.Command) error {
	lc := logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
	interactive := cmd.Annotations[annotationFullscreen] == "true"
	if lc.File == "" && interactive {
		lc.File = filepath.Join(config.DataDir(), "tandem.log")
	}

	var console io.Writer
	if verbose && !interactive {
		console = os.Stderr
		lc.Level = "debug"
	}

	l, closer, err := logging.New(lc, console)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger, logCloser = l, closer
	return nil
}

// annotationFullscreen marks commands that run the TUI and must keep log
// output off the terminal.
const annotationFullscreen = "tandem.fullscreen"

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if JSONOutput() {
			printJSON(map[string]string{
				"error":      err.Error(),
				"suggestion": tandemerrors.GetSuggestion(err),
			})
		} else {
			fmt.Fprintln(os.Stderr, tandemerrors.Format(err))
		}
		os.Exit(1)
	}
}

// Config returns the loaded configuration.
func Config() *config.Config {
	return cfg
}

// JSONOutput returns true if JSON output is requested.
func JSONOutput() bool {
	return jsonOut
}

// Verbose returns true if verbose output is requested.
func Verbose() bool {
	return verbose
}
