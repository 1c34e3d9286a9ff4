package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/threatvet/threatvet/pkg/config"
	"github.com/threatvet/threatvet/pkg/handler"
	"github.com/threatvet/threatvet/pkg/source"
)

var conf = config.New()

func initConfig() {
	if conf.Config == "" {
		location, err := config.GetConfigFile()
		if err != nil {
			logger.Error("could not create config file", slog.String("location", location))
		}
		conf.Config = location
	}
	viper.SetConfigFile(conf.Config)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		logger.Error("can't read config", slog.String("error", err.Error()))
		return
	}
	if err := viper.Unmarshal(conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		flagValueHook(),
	))); err != nil {
		logger.Error("can't unmarshal config", slog.String("error", err.Error()))
	}
}

// flagValueHook decodes the human-readable forms of config.Duration and
// config.Size ("30s", "100MiB") from yaml strings.
func flagValueHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		raw, _ := data.(string)
		switch to {
		case reflect.TypeOf(config.Duration(0)):
			var d config.Duration
			if err := d.Set(raw); err != nil {
				return nil, err
			}
			return d, nil
		case reflect.TypeOf(config.Size(0)):
			var s config.Size
			if err := s.Set(raw); err != nil {
				return nil, err
			}
			return s, nil
		}
		return data, nil
	}
}

func initRoot(rootCmd *cobra.Command) {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&conf.Config, "config", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().UintVar(&conf.Workers, "workers", config.DefaultWorkers, "Number of concurrent workers for file analysis")
	rootCmd.PersistentFlags().UintVar(&conf.ExtractWorkers, "extract-workers", config.DefaultExtractWorkers, "Number of concurrent workers for archive extraction (used when extract is enabled)")
	rootCmd.PersistentFlags().Var(&conf.MaxFileSize, "max-file-size", "Maximum file size to analyze directly (e.g. '100MiB'). Files exceeding this are extracted if 'extract' is enabled, otherwise rejected")
	rootCmd.PersistentFlags().BoolVar(&conf.Extract, "extract", conf.Extract, "Enable archive extraction for files exceeding max-file-size (archives are unpacked and contents analyzed)")
	rootCmd.PersistentFlags().BoolVarP(&conf.Debug, "debug", "d", conf.Debug, "print debug strings")
	rootCmd.PersistentFlags().BoolVarP(&conf.Verbose, "verbose", "v", conf.Verbose, "Report all analyzed files, including clean files (not just detections)")
	rootCmd.PersistentFlags().BoolVarP(&conf.Quiet, "quiet", "q", conf.Quiet, "print no information strings")
	rootCmd.PersistentFlags().StringVar(&conf.Report, "report", "", "File path for JSON scan reports (leave empty to print to stdout)")

	rootCmd.PersistentFlags().BoolVar(&conf.Pipeline.EnableFast, "fast", conf.Pipeline.EnableFast, "Run the static pre-scan tier")
	rootCmd.PersistentFlags().BoolVar(&conf.Pipeline.EnableDeep, "deep", conf.Pipeline.EnableDeep, "Run the behavioral sandbox tier")
	rootCmd.PersistentFlags().Var(&conf.Pipeline.FastTimeout, "fast-timeout", "Time allowed for the static tier on each file")
	rootCmd.PersistentFlags().Var(&conf.Pipeline.DeepTimeout, "deep-timeout", "Time allowed for the sandbox tier on each file")

	rootCmd.PersistentFlags().StringVar(&conf.Sandbox.Backend, "sandbox-backend", config.DefaultBackend, "Isolation backend binary, resolved via PATH")
	rootCmd.PersistentFlags().StringVar(&conf.Sandbox.ConfigPath, "sandbox-config", "", "Isolation profile path, overrides the default search paths")
	rootCmd.PersistentFlags().Var(&conf.Sandbox.MaxMemory, "sandbox-memory", "Address space cap for the analyzed payload (e.g. '512MiB')")
	rootCmd.PersistentFlags().BoolVar(&conf.Sandbox.AllowNetwork, "allow-network", conf.Sandbox.AllowNetwork, "Keep the network namespace shared with the host")

	rootCmd.PersistentFlags().StringVar(&conf.Cache.Location, "cache", config.DefaultCacheLocation, "Location of the verdict cache file (leave empty for a volatile cache)")
	rootCmd.PersistentFlags().Var(&conf.Cache.Validity, "cache-validity", "How long a cached verdict stays valid (e.g. '720h')")

	rootCmd.PersistentFlags().BoolVar(&conf.Quarantine.Enabled, "quarantine-enabled", conf.Quarantine.Enabled, "Quarantine malicious files")
	rootCmd.PersistentFlags().StringVar(&conf.Quarantine.Location, "quarantine", config.DefaultQuarantineLocation, "Directory path where quarantined files are stored (files are encrypted with .lock extension)")
	rootCmd.PersistentFlags().StringVar(&conf.Quarantine.Registry, "quarantine-registry", conf.Quarantine.Registry, "Path to the database that stores quarantined and restored file entries (leave empty for in-memory store, lost on restart)")
	rootCmd.PersistentFlags().StringVar(&conf.Quarantine.Password, "quarantine-password", config.DefaultQuarantinePassword, "Password used to lock files in quarantine")

	rootCmd.PersistentFlags().StringVar(&conf.S3.Endpoint, "s3-endpoint", os.Getenv("S3_ENDPOINT"), "S3 compatible endpoint for s3:// inputs, empty for AWS")
	rootCmd.PersistentFlags().StringVar(&conf.S3.Region, "s3-region", conf.S3.Region, "S3 region")
	rootCmd.PersistentFlags().StringVar(&conf.S3.AccessKeyID, "s3-access-key", os.Getenv("S3_ACCESS_KEY"), "S3 access key")
	rootCmd.PersistentFlags().StringVar(&conf.S3.SecretAccessKey, "s3-secret-key", os.Getenv("S3_SECRET_KEY"), "S3 secret key")
	rootCmd.PersistentFlags().BoolVar(&conf.S3.Insecure, "s3-insecure", conf.S3.Insecure, "do not check S3 endpoint certificates")
	rootCmd.PersistentFlags().BoolVar(&conf.S3.UsePathStyle, "s3-path-style", conf.S3.UsePathStyle, "use path style object addressing (minio)")

	watchCmd.PersistentFlags().BoolVar(&conf.Monitoring.PreScan, "pre-scan", false, "Immediately analyze all existing files in watched paths when watching starts")
	watchCmd.PersistentFlags().BoolVar(&conf.Monitoring.ReScan, "re-scan", false, "Re-analyze all watched files periodically")
	watchCmd.PersistentFlags().Var(&conf.Monitoring.Period, "scan-period", "Time interval between periodic re-scans (e.g. '1h', requires re-scan)")
	watchCmd.PersistentFlags().Var(&conf.Monitoring.ModificationDelay, "mod-delay", "Wait time after file modification before analyzing (e.g. '30s', prevents analyzing incomplete writes)")
}

var rootCmd = &cobra.Command{
	Use:   "threatvet",
	Short: "ThreatVet analyzes files for malware with a tiered static and sandbox pipeline",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		err = yaml.NewEncoder(os.Stdout).Encode(conf)
		if err != nil {
			logger.Error("error encode yaml conf", slog.String("err", err.Error()))
			return
		}
		if err = cmd.Usage(); err != nil {
			return
		}
		return
	},
}

func initHandler(cmd *cobra.Command, _ []string) (err error) {
	if conf.Debug {
		LogLevel.Set(slog.LevelDebug)
		logger.Debug("debug activated")
	}
	vetHandler, err = handler.NewHandler(cmd.Context(), conf)
	if err != nil {
		logger.Error("could not init handler properly", slog.String("error", err.Error()))
		return
	}
	return nil
}

func checkFiles(cmd *cobra.Command, args []string) error {
	pathsToScan := args
	pathsToScan = append(pathsToScan, conf.Paths...)
	if len(pathsToScan) < 1 {
		return errors.New("at least one file is mandatory")
	}
	for _, path := range pathsToScan {
		if source.IsS3(path) {
			continue
		}
		if _, err := os.Stat(filepath.Clean(path)); err != nil {
			return fmt.Errorf("could not check file %s: %w", path, err)
		}
	}
	return nil
}
