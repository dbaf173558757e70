package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-media-reconcile/internal/api"
	"go-media-reconcile/internal/config"
	"go-media-reconcile/internal/content"
	"go-media-reconcile/internal/database"
	"go-media-reconcile/internal/helpers"
	"go-media-reconcile/internal/identity"
	"go-media-reconcile/internal/library"
	"go-media-reconcile/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

var (
	libraryFlag      string
	logLevelFlag     string
	logFormatFlag    string
	logFetchFlag     bool
	fetchTimeoutFlag int
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport is the base transport, wrapped for request logging when enabled
var globalHttpTransport http.RoundTripper

var rootCmd = &cobra.Command{
	Use:   "media-reconcile",
	Short: "Reconcile exported media into a local library",
	Long: `media-reconcile imports the assets referenced by a content manifest into a
local media library, reusing what is already there, and rewrites every
reference in the content store to point at the local copies.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	defer func() {
		if lt, ok := globalHttpTransport.(*api.LoggingTransport); ok && lt != nil {
			if err := lt.Close(); err != nil {
				log.WithError(err).Error("Error closing fetch log file")
			}
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&libraryFlag, "library", "", "Library directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logFetchFlag, "log-fetch", false, "Log remote fetches to fetch.log in the library (overrides config)")
	rootCmd.PersistentFlags().IntVar(&fetchTimeoutFlag, "fetch-timeout", -1, "Timeout for remote fetches in seconds (overrides config, -1 uses config default)")
}

// initLogging configures the package-level logrus logger.
func initLogging(level, format string) error {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
	return nil
}

// loadGlobalConfig loads the configuration, applies flag overrides and sets
// up the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	if err := initLogging(logLevelFlag, logFormatFlag); err != nil {
		return err
	}

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("library") {
		if libraryFlag != "" {
			// Derived paths follow the library unless the config pinned them.
			if globalConfig.DatabasePath == filepath.Join(globalConfig.LibraryPath, ".db") {
				globalConfig.DatabasePath = ""
			}
			if globalConfig.IndexPath == filepath.Join(globalConfig.LibraryPath, ".index") {
				globalConfig.IndexPath = ""
			}
			globalConfig.LibraryPath = libraryFlag
			config.ApplyDefaults(&globalConfig)
			log.Debugf("Overriding LibraryPath based on --library flag: %s", libraryFlag)
		} else {
			log.Warn("--library flag provided but value is empty, ignoring.")
		}
	}
	if cmd.Flags().Changed("log-fetch") {
		globalConfig.LogFetchRequests = logFetchFlag
	}
	if cmd.Flags().Changed("fetch-timeout") {
		if fetchTimeoutFlag > 0 {
			globalConfig.FetchTimeoutSec = fetchTimeoutFlag
		} else {
			log.Warnf("--fetch-timeout flag provided with invalid value %d, using config value: %d sec", fetchTimeoutFlag, globalConfig.FetchTimeoutSec)
		}
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogFetchRequests {
		if !helpers.CheckAndMakeDir(globalConfig.LibraryPath) {
			log.Warnf("Library %s not usable, fetch logging disabled", globalConfig.LibraryPath)
			return nil
		}
		logFilePath := filepath.Join(globalConfig.LibraryPath, "fetch.log")
		lt, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath, false)
		if err != nil {
			log.WithError(err).Error("Failed to initialize fetch logging transport, logging disabled.")
		} else {
			log.Infof("Logging remote fetches to %s", logFilePath)
			globalHttpTransport = lt
		}
	}
	return nil
}

// stores bundles everything that lives in the library database.
type stores struct {
	db         *database.DB
	library    *library.Library
	content    *content.Store
	identities *identity.Store
}

func openStores(cfg models.Config) (*stores, error) {
	if !helpers.CheckAndMakeDir(cfg.LibraryPath) {
		return nil, fmt.Errorf("cannot create library directory %s", cfg.LibraryPath)
	}
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return &stores{
		db:         db,
		library:    library.New(db, cfg.LibraryPath, cfg.PublicBaseURL),
		content:    content.NewStore(db),
		identities: identity.NewStore(db),
	}, nil
}

func (s *stores) Close() {
	if err := s.db.Close(); err != nil {
		log.WithError(err).Error("Error closing database")
	}
}
