package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/regscout/pkg/registry/digest"
	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
)

// digestAlgorithm prefixes expected digests given as bare hex.
const digestAlgorithm = "sha256:"

var (
	// errNoConfigDigest indicates the manifest carried no usable image configuration.
	errNoConfigDigest = errors.New("no config digest found")
	// errDigestMismatch indicates the registry digest differs from the expected one.
	errDigestMismatch = errors.New("digest mismatch")
	// errInvalidDigest indicates the expected digest is malformed.
	errInvalidDigest = errors.New("invalid digest")
)

func newDigestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "digest IMAGE",
		Short: "Print the manifest digest of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newLookupEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			lookupName, tag, err := helpers.SplitImageReference(args[0])
			if err != nil {
				return err
			}

			value, err := env.client.GetDigest(cmd.Context(), lookupName, env.registryURL, tag)
			if err != nil {
				return err
			}

			if value == "" {
				return fmt.Errorf("%w: %s", errNoDigest, args[0])
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)

			return err
		},
	}
}

func newConfigDigestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config-digest IMAGE",
		Short: "Print the image configuration digest of an image",
		Long: `Print the image configuration digest of an image.

Manifest lists and OCI indexes resolve to the first listed platform.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newLookupEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			lookupName, tag, err := helpers.SplitImageReference(args[0])
			if err != nil {
				return err
			}

			repo := env.client.Resolve(lookupName, env.registryURL)

			value, err := env.client.GetConfigDigest(cmd.Context(), repo.Registry, repo.Repository, tag)
			if err != nil {
				return err
			}

			if value == "" {
				return fmt.Errorf("%w: %s", errNoConfigDigest, args[0])
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)

			return err
		},
	}
}

func newLabelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "labels IMAGE",
		Short: "Print the labels of an image as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newLookupEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			lookupName, tag, err := helpers.SplitImageReference(args[0])
			if err != nil {
				return err
			}

			repo := env.client.Resolve(lookupName, env.registryURL)

			labels, err := env.client.GetLabels(cmd.Context(), repo.Registry, repo.Repository, tag)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")

			return encoder.Encode(labels)
		},
	}
}

func newTagsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tags REPOSITORY",
		Short: "List the tags of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newLookupEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			lookupName, _, err := helpers.SplitImageReference(args[0])
			if err != nil {
				return err
			}

			repo := env.client.Resolve(lookupName, env.registryURL)

			tags, err := env.client.ListTags(cmd.Context(), repo.Registry, repo.Repository)
			if err != nil {
				return err
			}

			for _, tag := range tags {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), tag); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check IMAGE DIGEST",
		Short: "Check whether an image still points to a digest",
		Long: `Check whether an image still points to a digest.

Exits non-zero when the registry reports a different digest. DIGEST may be a
bare digest or a repo digest such as nginx@sha256:...`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected := args[1]
			if _, bare, found := strings.Cut(expected, "@"); found {
				expected = bare
			}

			if !strings.Contains(expected, ":") {
				expected = digestAlgorithm + expected
			}

			if !digest.Validate(expected) {
				return fmt.Errorf("%w: %s", errInvalidDigest, args[1])
			}

			env, err := newLookupEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			lookupName, tag, err := helpers.SplitImageReference(args[0])
			if err != nil {
				return err
			}

			remote, err := env.client.GetDigest(cmd.Context(), lookupName, env.registryURL, tag)
			if err != nil {
				return err
			}

			if remote == "" {
				return fmt.Errorf("%w: %s", errNoDigest, args[0])
			}

			fields := logrus.Fields{"image": args[0], "remote": remote}

			if !digest.DigestsMatch([]string{args[1]}, remote) {
				logrus.WithFields(fields).Debug("Digests differ")

				return fmt.Errorf("%w: %s is now %s", errDigestMismatch, args[0], remote)
			}

			logrus.WithFields(fields).Debug("Digests match")

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "up to date")

			return err
		},
	}
}
