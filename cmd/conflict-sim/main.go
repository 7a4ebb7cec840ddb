package main

import (
	"io"
	"os"

	"github.com/go-go-golems/conflict-sim/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// appSettings is loaded once flags are parsed, before any subcommand runs.
var appSettings *settings.Settings

var rootCmd = &cobra.Command{
	Use:           "conflict-sim",
	Short:         "conflict-sim simulates conflicts between two LLM agents as branching conversations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		appSettings = s
		return InitLogger(&logConfig{
			Level:      s.LogLevel,
			LogFormat:  s.LogFormat,
			LogFile:    s.LogFile,
			WithCaller: s.WithCaller,
		})
	},
}

func loadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	v, err := settings.New(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := settings.ReadConfig(v, v.GetString("config")); err != nil {
		return nil, err
	}
	return settings.Load(v)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func InitLogger(config *logConfig) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if config.WithCaller {
		logger = logger.With().Caller().Logger()
	}

	// default is json
	var logWriter io.Writer
	if config.LogFormat == "text" {
		logWriter = zerolog.ConsoleWriter{
			Out:     os.Stderr,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	log.Logger = logger.Output(logWriter)

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func init() {
	settings.AddFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(newServeCommand(), newSimulateCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
