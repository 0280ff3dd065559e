package cmd

import (
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/regscout/internal/flags"
	"github.com/nicholas-fedor/regscout/internal/meta"
	"github.com/nicholas-fedor/regscout/pkg/cache"
	"github.com/nicholas-fedor/regscout/pkg/hostrules"
	"github.com/nicholas-fedor/regscout/pkg/metrics"
	"github.com/nicholas-fedor/regscout/pkg/registry"
	"github.com/nicholas-fedor/regscout/pkg/registry/ecr"
	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
	"github.com/nicholas-fedor/regscout/pkg/registry/transport"
)

// retryDelay is the initial backoff between connection retries.
const retryDelay = 250 * time.Millisecond

// errNoDigest indicates the registry returned no manifest for the image.
var errNoDigest = errors.New("no digest found")

// lookupEnv bundles the collaborators built from the registry flags.
type lookupEnv struct {
	client      *registry.Client
	registryURL string
	cache       *cache.Memory
}

// close releases the resources of the lookup environment.
func (e *lookupEnv) close() {
	e.cache.Close()
}

// NewRootCommand creates the regscout command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "regscout",
		Short: "Inspects container images in Docker Registry V2 registries",
		Long: `
regscout resolves manifest digests, configuration digests, labels and tags
of container images directly from their registries, without pulling them.
`,
		Version:           meta.Version,
		PersistentPreRunE: preRun,
		SilenceUsage:      true,
	}

	flags.SetDefaults()
	flags.RegisterRegistryFlags(rootCmd)
	flags.RegisterSystemFlags(rootCmd)

	rootCmd.AddCommand(
		newDigestCommand(),
		newConfigDigestCommand(),
		newLabelsCommand(),
		newTagsCommand(),
		newCheckCommand(),
		newWatchCommand(),
	)

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// preRun processes flag aliases, configures logging and loads file-based secrets.
func preRun(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()

	if err := flags.ProcessFlagAliases(f); err != nil {
		return err
	}

	if err := flags.SetupLogging(f); err != nil {
		return err
	}

	return flags.GetSecretsFromFiles(f)
}

// newLookupEnv builds the registry client from the registry flags.
func newLookupEnv(cmd *cobra.Command) (*lookupEnv, error) {
	opts, err := flags.ReadRegistryOptions(cmd.Flags())
	if err != nil {
		return nil, err
	}

	storeOpts := []hostrules.Option{
		hostrules.WithRules(hostRules(opts)...),
		hostrules.WithDockerConfig(opts.DockerConfig),
	}
	if opts.EnvCredentials {
		storeOpts = append(storeOpts, hostrules.WithEnvCredentials())
	}

	store := hostrules.New(storeOpts...)
	m := metrics.Default()

	httpClient := transport.New(
		transport.WithTimeout(opts.Timeout),
		transport.WithRetries(opts.Retries, retryDelay),
		transport.WithHostFilter(store),
		transport.WithMetrics(m),
		transport.WithUserAgent(meta.UserAgent),
	)

	memory := cache.NewMemory()

	logrus.WithFields(logrus.Fields{
		"registry_url": opts.RegistryURL,
		"timeout":      opts.Timeout,
		"retries":      opts.Retries,
	}).Debug("Configured registry client")

	return &lookupEnv{
		client: registry.New(httpClient, store,
			registry.WithTokenIssuer(ecr.NewIssuer()),
			registry.WithCache(memory),
			registry.WithMetrics(m),
		),
		registryURL: opts.RegistryURL,
		cache:       memory,
	}, nil
}

// hostRules turns the registry flags into host rules, one per host.
func hostRules(opts flags.RegistryOptions) []hostrules.Rule {
	var (
		order []string
		rules = map[string]*hostrules.Rule{}
	)

	ruleFor := func(host string) *hostrules.Rule {
		host = helpers.RegistryHost(host)
		if rule, ok := rules[host]; ok {
			return rule
		}

		order = append(order, host)
		rules[host] = &hostrules.Rule{Host: host}

		return rules[host]
	}

	for _, host := range opts.InsecureRegistries {
		ruleFor(host).InsecureRegistry = true
	}

	for _, host := range opts.DisabledHosts {
		ruleFor(host).Disabled = true
	}

	if opts.Username != "" || opts.Password != "" {
		rule := ruleFor(opts.RegistryURL)
		rule.Username = opts.Username
		rule.Password = opts.Password
	}

	result := make([]hostrules.Rule, 0, len(order))
	for _, host := range order {
		result = append(result, *rules[host])
	}

	return result
}
