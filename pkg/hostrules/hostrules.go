// Package hostrules resolves long-term registry credentials and per-host settings.
//
// Lookups consult, in order: explicitly configured rules, the REPO_USER/REPO_PASS
// environment credentials and the Docker CLI config file (including credential helpers).
package hostrules

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	dockerCliConfig "github.com/docker/cli/cli/config"
	dockerConfigTypes "github.com/docker/cli/cli/config/types"

	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// Rule configures a single registry host.
type Rule struct {
	// HostType restricts the rule to a host type such as types.HostTypeDocker. Empty matches any.
	HostType string
	// Host matches the request host exactly or as a parent domain ("example.com" matches "registry.example.com").
	Host             string
	Username         string
	Password         string
	InsecureRegistry bool
	// Disabled blocks all requests to the host.
	Disabled bool
}

// Store answers credential and host filter lookups. It is safe for concurrent use
// once constructed.
type Store struct {
	rules        []Rule
	configDir    string
	useEnv       bool
	dockerConfig bool
}

// Option configures a Store.
type Option func(*Store)

// WithRules adds explicit host rules. Earlier rules win.
func WithRules(rules ...Rule) Option {
	return func(s *Store) {
		s.rules = append(s.rules, rules...)
	}
}

// WithDockerConfig reads credentials from the Docker CLI config in dir.
// An empty dir uses DOCKER_CONFIG or the Docker CLI default location.
func WithDockerConfig(dir string) Option {
	return func(s *Store) {
		s.dockerConfig = true
		s.configDir = dir
	}
}

// WithEnvCredentials uses REPO_USER and REPO_PASS for hosts without an explicit rule.
func WithEnvCredentials() Option {
	return func(s *Store) {
		s.useEnv = true
	}
}

// New creates a Store.
func New(opts ...Option) *Store {
	store := &Store{}
	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Find returns the credentials for url. The result is a copy owned by the caller.
func (s *Store) Find(hostType, url string) types.HostCredentials {
	host := helpers.RegistryHost(url)
	fields := logrus.Fields{"host": host, "host_type": hostType}

	var creds types.HostCredentials

	if rule, ok := s.match(hostType, host); ok {
		creds = types.HostCredentials{
			Username:         rule.Username,
			Password:         rule.Password,
			InsecureRegistry: rule.InsecureRegistry,
		}
	}

	if creds.HasBasicAuth() {
		logrus.WithFields(fields).WithField("username", creds.Username).Debug("Using credentials from host rule")

		return creds
	}

	if username, password, ok := envCredentials(s.useEnv); ok {
		logrus.WithFields(fields).WithField("username", username).Debug("Using credentials from environment")

		creds.Username, creds.Password = username, password

		return creds
	}

	if s.dockerConfig {
		if auth, ok := s.configCredentials(host); ok {
			logrus.WithFields(fields).WithField("username", auth.Username).Debug("Using credentials from Docker config")

			creds.Username, creds.Password = auth.Username, auth.Password
			if auth.IdentityToken != "" && creds.Password == "" {
				creds.Password = auth.IdentityToken
			}
		}
	}

	return creds
}

// Disabled reports whether requests to url's host are blocked by a rule.
func (s *Store) Disabled(url string) bool {
	rule, ok := s.match("", helpers.RegistryHost(url))

	return ok && rule.Disabled
}

func (s *Store) match(hostType, host string) (Rule, bool) {
	for _, rule := range s.rules {
		if hostType != "" && rule.HostType != "" && rule.HostType != hostType {
			continue
		}

		ruleHost := helpers.RegistryHost(rule.Host)
		if host == ruleHost || strings.HasSuffix(host, "."+ruleHost) {
			return rule, true
		}
	}

	return Rule{}, false
}

func (s *Store) configCredentials(host string) (dockerConfigTypes.AuthConfig, bool) {
	configDir := s.configDir
	if configDir == "" {
		configDir = os.Getenv("DOCKER_CONFIG")
	}

	configFile, err := dockerCliConfig.Load(configDir)
	if err != nil {
		logrus.WithError(err).WithField("config_dir", configDir).Debug("Failed to load Docker config")

		return dockerConfigTypes.AuthConfig{}, false
	}

	auth, err := configFile.GetAuthConfig(host)
	if err != nil {
		logrus.WithError(err).WithField("host", host).Debug("Failed to read credentials from store")

		return dockerConfigTypes.AuthConfig{}, false
	}

	if auth.Username == "" && auth.Password == "" && auth.IdentityToken == "" {
		return dockerConfigTypes.AuthConfig{}, false
	}

	return auth, true
}

func envCredentials(enabled bool) (string, string, bool) {
	if !enabled {
		return "", "", false
	}

	username := os.Getenv("REPO_USER")
	password := os.Getenv("REPO_PASS")

	return username, password, username != "" && password != ""
}
