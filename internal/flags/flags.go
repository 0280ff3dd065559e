// Package flags manages command-line flags and environment variables for regscout configuration.
package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
)

// defaultPollIntervalSeconds defines the default polling interval in seconds (1 hour).
const defaultPollIntervalSeconds = 3600

// defaultTimeout bounds a single registry request.
const defaultTimeout = 60 * time.Second

// defaultRetries is how many times a failed connection is retried.
const defaultRetries = 2

// errInvalidLogFormat indicates an invalid log format was specified.
// It is used in SetupLogging to report configuration errors.
var errInvalidLogFormat = errors.New("invalid log format specified")

// errInvalidLogLevel indicates an invalid log level was specified.
// It is used in SetupLogging to report configuration errors.
var errInvalidLogLevel = errors.New("invalid log level specified")

// errReadFileFailed indicates a failure to read a file’s contents.
// It is used in getSecretFromFile to wrap os.ReadFile errors.
var errReadFileFailed = errors.New("failed to read secret file")

// errSetFlagFailed indicates a failure to get or set a flag’s value.
var errSetFlagFailed = errors.New("failed to set flag value")

// errInvalidFlagName indicates an invalid flag name was provided.
var errInvalidFlagName = errors.New("invalid flag name provided")

// errScheduleAndInterval indicates both a schedule and an interval were set.
var errScheduleAndInterval = errors.New("only schedule or interval can be defined, not both")

// errInvalidRetries indicates a negative retry count.
var errInvalidRetries = errors.New("retries must not be negative")

// errReplaceSliceFailed indicates a slice flag could not be replaced with file contents.
var errReplaceSliceFailed = errors.New("failed to replace slice flag values")

// RegistryOptions holds the registry connection settings read from flags.
type RegistryOptions struct {
	RegistryURL        string
	DockerConfig       string
	InsecureRegistries []string
	DisabledHosts      []string
	Username           string
	Password           string
	EnvCredentials     bool
	Timeout            time.Duration
	Retries            int
}

// RegisterRegistryFlags adds the flags configuring registry access to the root command.
func RegisterRegistryFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"registry-url",
		"r",
		envString("REGSCOUT_REGISTRY_URL"),
		"Registry used for lookup names without a registry host")

	flags.StringP(
		"docker-config",
		"",
		envString("DOCKER_CONFIG"),
		"Directory containing the Docker CLI config.json used for credentials")

	flags.StringSliceP(
		"insecure-registry",
		"",
		envStringSlice("REGSCOUT_INSECURE_REGISTRIES"),
		"Registry host to contact over plain HTTP (may be repeated)")

	flags.StringSliceP(
		"disabled-host",
		"",
		envStringSlice("REGSCOUT_DISABLED_HOSTS"),
		"Registry host to never contact (may be repeated)")

	flags.StringP(
		"username",
		"u",
		envString("REGSCOUT_USERNAME"),
		"Username for the registry given by --registry-url")

	flags.StringP(
		"password",
		"p",
		envString("REGSCOUT_PASSWORD"),
		"Password for the registry given by --registry-url, or a file containing it")

	flags.BoolP(
		"env-credentials",
		"",
		envBool("REGSCOUT_ENV_CREDENTIALS"),
		"Use REPO_USER and REPO_PASS as credentials for every registry")

	flags.DurationP(
		"timeout",
		"t",
		envDuration("REGSCOUT_TIMEOUT"),
		"Timeout for a single registry request")

	flags.IntP(
		"retries",
		"",
		envInt("REGSCOUT_RETRIES"),
		"Number of retries for requests that fail to connect")
}

// RegisterSystemFlags adds the flags controlling logging to the root command.
func RegisterSystemFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.BoolP(
		"debug",
		"d",
		envBool("REGSCOUT_DEBUG"),
		"Enable debug mode with verbose logging")

	flags.BoolP(
		"trace",
		"",
		envBool("REGSCOUT_TRACE"),
		"Enable trace mode with very verbose logging - caution, exposes request URLs")

	flags.StringP(
		"log-level",
		"",
		envString("REGSCOUT_LOG_LEVEL"),
		"The maximum log level that will be written to STDERR. Possible values: panic, fatal, error, warn, info, debug or trace")

	flags.StringP(
		"log-format",
		"l",
		envString("REGSCOUT_LOG_FORMAT"),
		"Sets what logging format to use for console output. Possible values: Auto, LogFmt, Pretty, JSON")

	flags.BoolP(
		"no-color",
		"",
		envBool("NO_COLOR"),
		"Disable ANSI color escape codes in log output")
}

// RegisterWatchFlags adds the flags of the watch command.
func RegisterWatchFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.IntP(
		"interval",
		"i",
		envInt("REGSCOUT_POLL_INTERVAL"),
		"Poll interval (in seconds)")

	flags.StringP(
		"schedule",
		"s",
		envString("REGSCOUT_SCHEDULE"),
		"The cron expression which defines when to check")

	flags.StringP(
		"metrics-addr",
		"",
		envString("REGSCOUT_METRICS_ADDR"),
		"Address serving /v1/metrics and /v1/digests; empty disables it")

	flags.StringP(
		"metrics-token",
		"",
		envString("REGSCOUT_METRICS_TOKEN"),
		"Bearer token required to read metrics, or a file containing it")

	flags.BoolP(
		"run-once",
		"R",
		envBool("REGSCOUT_RUN_ONCE"),
		"Run a single check and exit")

	flags.StringArray(
		"notification-url",
		envStringSlice("REGSCOUT_NOTIFICATION_URL"),
		"The shoutrrr URL to send digest change notifications to, or a file listing them")

	flags.String(
		"notification-template",
		envString("REGSCOUT_NOTIFICATION_TEMPLATE"),
		"The text/template rendering the changed digests of a run")

	flags.String(
		"notification-title",
		envString("REGSCOUT_NOTIFICATION_TITLE"),
		"Title passed to notification services that support one")
}

// envString retrieves a string value from an environment variable via Viper.
// It binds the key to the environment and returns its value.
func envString(key string) string {
	viper.MustBindEnv(key)

	return viper.GetString(key)
}

// envStringSlice retrieves a string slice from an environment variable via Viper.
func envStringSlice(key string) []string {
	viper.MustBindEnv(key)

	return viper.GetStringSlice(key)
}

// envInt retrieves an integer value from an environment variable via Viper.
func envInt(key string) int {
	viper.MustBindEnv(key)

	return viper.GetInt(key)
}

// envBool retrieves a boolean value from an environment variable via Viper.
func envBool(key string) bool {
	viper.MustBindEnv(key)

	return viper.GetBool(key)
}

// envDuration retrieves a duration value from an environment variable via Viper.
func envDuration(key string) time.Duration {
	viper.MustBindEnv(key)

	return viper.GetDuration(key)
}

// SetDefaults configures default values for environment variables.
// It must run before the Register functions, which read their defaults from Viper.
func SetDefaults() {
	viper.AutomaticEnv()
	viper.SetDefault("REGSCOUT_REGISTRY_URL", helpers.DefaultRegistryURL)
	viper.SetDefault("REGSCOUT_TIMEOUT", defaultTimeout)
	viper.SetDefault("REGSCOUT_RETRIES", defaultRetries)
	viper.SetDefault("REGSCOUT_POLL_INTERVAL", defaultPollIntervalSeconds)
	viper.SetDefault("REGSCOUT_INSECURE_REGISTRIES", []string{})
	viper.SetDefault("REGSCOUT_DISABLED_HOSTS", []string{})
	viper.SetDefault("REGSCOUT_LOG_LEVEL", "info")
	viper.SetDefault("REGSCOUT_LOG_FORMAT", "auto")
}

// ReadRegistryOptions collects the registry flags into RegistryOptions.
func ReadRegistryOptions(flags *pflag.FlagSet) (RegistryOptions, error) {
	var (
		opts RegistryOptions
		err  error
	)

	if opts.RegistryURL, err = flags.GetString("registry-url"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.DockerConfig, err = flags.GetString("docker-config"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.InsecureRegistries, err = flags.GetStringSlice("insecure-registry"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.DisabledHosts, err = flags.GetStringSlice("disabled-host"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.Username, err = flags.GetString("username"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.Password, err = flags.GetString("password"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.EnvCredentials, err = flags.GetBool("env-credentials"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.Retries, err = flags.GetInt("retries"); err != nil {
		return opts, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.Retries < 0 {
		return opts, fmt.Errorf("%w: %d", errInvalidRetries, opts.Retries)
	}

	opts.RegistryURL = strings.TrimSuffix(helpers.EnsureScheme(opts.RegistryURL), "/")

	return opts, nil
}

// GetSecretsFromFiles replaces secret flag values with file contents if they reference files.
// Secrets not defined on flags are skipped.
func GetSecretsFromFiles(flags *pflag.FlagSet) error {
	secrets := []string{
		"password",
		"metrics-token",
		"notification-url",
	}
	for _, secret := range secrets {
		if flags.Lookup(secret) == nil {
			continue
		}

		if err := getSecretFromFile(flags, secret); err != nil {
			return fmt.Errorf("failed to get secret from flag %v: %w", secret, err)
		}
	}

	return nil
}

// getSecretFromFile updates a flag’s value with file contents if it references a file.
func getSecretFromFile(flags *pflag.FlagSet, secret string) error {
	flag := flags.Lookup(secret)
	if flag == nil {
		return fmt.Errorf("%w: %q", errInvalidFlagName, secret)
	}

	if sliceValue, ok := flag.Value.(pflag.SliceValue); ok {
		return replaceSliceFromFiles(sliceValue)
	}

	value := flag.Value.String()
	if value != "" && isFilePath(value) {
		content, err := os.ReadFile(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errReadFileFailed, err)
		}

		if err := flags.Set(secret, strings.TrimSpace(string(content))); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	return nil
}

// replaceSliceFromFiles expands every file path in a slice flag into the file's non-empty lines.
func replaceSliceFromFiles(sliceValue pflag.SliceValue) error {
	oldValues := sliceValue.GetSlice()
	values := make([]string, 0, len(oldValues))

	for _, value := range oldValues {
		if value == "" || !isFilePath(value) {
			values = append(values, value)

			continue
		}

		content, err := os.ReadFile(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errReadFileFailed, err)
		}

		for line := range strings.Lines(string(content)) {
			if line = strings.TrimSpace(line); line != "" {
				values = append(values, line)
			}
		}
	}

	if err := sliceValue.Replace(values); err != nil {
		return fmt.Errorf("%w: %w", errReplaceSliceFailed, err)
	}

	return nil
}

// isFilePath determines if a string likely represents a file path.
// It checks for file existence, avoiding false positives from URLs or invalid Windows paths.
func isFilePath(path string) bool {
	firstColon := strings.IndexRune(path, ':')
	if firstColon != 1 && firstColon != -1 {
		// If ':' exists but isn’t the second character, it’s likely not a file path (e.g., URLs).
		return false
	}

	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

// ProcessFlagAliases synchronizes flag values based on helper flags and environment settings.
// The debug and trace flags raise the log level; an interval is turned into a schedule
// when the flag set has both.
func ProcessFlagAliases(flags *pflag.FlagSet) error {
	if flags.Lookup("schedule") != nil && flags.Lookup("interval") != nil {
		if err := syncSchedule(flags); err != nil {
			return err
		}
	}

	if flagIsEnabled(flags, "debug") {
		if err := flags.Set("log-level", "debug"); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	if flagIsEnabled(flags, "trace") {
		if err := flags.Set("log-level", "trace"); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	return nil
}

func syncSchedule(flags *pflag.FlagSet) error {
	scheduleChanged := flags.Changed("schedule")
	intervalChanged := flags.Changed("interval")
	// Values coming from the environment do not mark the flag as changed.
	if val, _ := flags.GetString("schedule"); val != "" {
		scheduleChanged = true
	}

	if val, _ := flags.GetInt("interval"); val != defaultPollIntervalSeconds {
		intervalChanged = true
	}

	if intervalChanged && scheduleChanged {
		return errScheduleAndInterval
	}

	if intervalChanged || !scheduleChanged {
		interval, _ := flags.GetInt("interval")
		if err := flags.Set("schedule", fmt.Sprintf("@every %ds", interval)); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	return nil
}

// SetupLogging configures the global logger based on log-related flags.
// It sets the log format and level, returning an error for invalid configurations.
func SetupLogging(flags *pflag.FlagSet) error {
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if err := configureLogFormat(logFormat, noColor); err != nil {
		return err
	}

	rawLogLevel, err := flags.GetString("log-level")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	logLevel, err := logrus.ParseLevel(rawLogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	logrus.SetLevel(logLevel)

	return nil
}

// configureLogFormat sets the logrus formatter based on the specified format and color preference.
func configureLogFormat(logFormat string, noColor bool) error {
	switch strings.ToLower(logFormat) {
	case "auto":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors:             noColor,
			EnvironmentOverrideColors: true,
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "logfmt":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	case "pretty":
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !noColor,
			FullTimestamp: false,
		})
	default:
		return fmt.Errorf("%w: %s", errInvalidLogFormat, logFormat)
	}

	return nil
}

// flagIsEnabled checks if a boolean flag is set to true. Undefined flags count as disabled.
func flagIsEnabled(flags *pflag.FlagSet, name string) bool {
	value, err := flags.GetBool(name)

	return err == nil && value
}
