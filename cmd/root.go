package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meko-christian/imap2smtp/internal/config"
)

var (
	cfgFile string

	// runID tags every log line of this process.
	runID = uuid.NewString()

	// readErr is set by initConfig and reported once a command needs the
	// configuration, after the logger is set up.
	readErr error
)

var rootCmd = &cobra.Command{
	Use:   "imap2smtp",
	Short: "Forward every message of an IMAP mailbox to one address over SMTP",
	Long: `imap2smtp logs into an IMAP mailbox, submits every message it finds to a
fixed destination address over SMTP and then marks or moves the message
according to the result. Without a subcommand it behaves like "serve".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Setup logger after flag parsing and config loading
		setupLogger()
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(initCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("IMAP2SMTP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	readErr = viper.ReadInConfig()
}

// loadConfig returns the validated configuration. A missing config file is
// not fatal on its own since every key can come from the environment.
func loadConfig() (*config.Config, error) {
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) && !errors.Is(readErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", readErr)
		}
		slog.Warn("No config file found, using environment only",
			"hint", "Run `imap2smtp init` to create one interactively.")
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogger() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") || viper.GetBool("common.debug") {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With("run_id", runID)
	if used := viper.ConfigFileUsed(); used != "" {
		logger = logger.With("config", used)
	}

	slog.SetDefault(logger)
}
