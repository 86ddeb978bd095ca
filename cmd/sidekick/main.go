package main

import (
	"io"
	"os"
	"strings"

	"github.com/embernet/sidekick-sub000/cmd/sidekick/cmds"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "sidekick",
	Short: "sidekick is a conversational assistant for the terminal",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
	SilenceUsage: true,
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	if viper.GetBool("verbose") && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

func InitLogger(config *logConfig) error {
	logger := zerolog.New(os.Stderr).With().Timestamp()
	if config.WithCaller {
		logger = logger.Caller()
	}

	// default is json
	var logWriter io.Writer
	if config.LogFormat == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
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

	log.Logger = logger.Logger().Output(logWriter)

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return nil
}

func initConfig(rootCmd *cobra.Command, configPath string) error {
	viper.SetEnvPrefix("sidekick")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.sidekick")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/sidekick")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment only
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.Bool("with-caller", false, "Log caller")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	pf.String("log-format", "text", "Log format (json, text)")
	pf.String("log-file", "", "Log file (default: stderr)")
	pf.Bool("verbose", false, "Verbose output")
	pf.String("config", "", "Path to config file (default ~/.sidekick/config.yaml)")

	cmds.AddSessionFlags(rootCmd)

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
	}

	err := initConfig(rootCmd, configFile)
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewAskCommand(),
		cmds.NewConversationsCommand(),
		cmds.NewMockServerCommand(),
	)
}
