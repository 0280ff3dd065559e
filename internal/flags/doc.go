// Package flags manages command-line flags and environment variables for regscout.
// It configures registry access, logging and the watch schedule via Cobra and Viper.
//
// Key components:
//   - RegisterRegistryFlags: Adds registry URL, credential, TLS and timeout flags.
//   - RegisterSystemFlags: Adds logging flags.
//   - RegisterWatchFlags: Adds schedule and metrics flags for the watch command.
//   - ReadRegistryOptions: Collects registry flags into RegistryOptions.
//   - SetupLogging: Configures logrus based on flags.
//
// Usage example:
//
//	flags.SetDefaults()
//	cmd := &cobra.Command{}
//	flags.RegisterSystemFlags(cmd)
//	err := flags.SetupLogging(cmd.PersistentFlags())
//	if err != nil {
//	    logrus.WithError(err).Fatal("Logging setup failed")
//	}
//
// Every flag defaults to a REGSCOUT_* environment variable bound through Viper.
package flags
