package scheduling

import (
	"context"
	"maps"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// DigestSource resolves registry locations and manifest digests.
type DigestSource interface {
	Resolve(lookupName, registryURL string) types.RegistryRepository
	GetDigest(ctx context.Context, lookupName, registryURL, tag string) (string, error)
}

// Target is one watched image.
type Target struct {
	Image      string
	LookupName string
	Tag        string
}

// Change is a digest that differs from the previous run.
type Change = types.DigestChange

// Report summarizes one run.
type Report struct {
	Checked        int      `json:"checked"`
	Changed        []Change `json:"changed,omitempty"`
	Unresolved     []string `json:"unresolved,omitempty"`
	Skipped        []string `json:"skipped,omitempty"`
	SuspendedHosts []string `json:"suspendedHosts,omitempty"`
}

// Watcher tracks the digests of a fixed set of images across runs.
type Watcher struct {
	source      DigestSource
	registryURL string
	targets     []Target

	mu   sync.Mutex
	last map[string]string
}

// NewWatcher parses images and creates a Watcher.
func NewWatcher(source DigestSource, registryURL string, images []string) (*Watcher, error) {
	targets := make([]Target, 0, len(images))

	for _, image := range images {
		lookupName, tag, err := helpers.SplitImageReference(image)
		if err != nil {
			return nil, err
		}

		targets = append(targets, Target{Image: image, LookupName: lookupName, Tag: tag})
	}

	return &Watcher{
		source:      source,
		registryURL: registryURL,
		targets:     targets,
		last:        make(map[string]string, len(targets)),
	}, nil
}

// Run checks every target once.
//
// A host that fails fatally is suspended for the rest of the run; its remaining
// targets are reported as skipped. Digests that could not be resolved keep
// their previous value.
func (w *Watcher) Run(ctx context.Context) Report {
	w.mu.Lock()
	defer w.mu.Unlock()

	var report Report

	suspended := map[string]bool{}

	for _, target := range w.targets {
		fields := logrus.Fields{"image": target.Image}

		repo := w.source.Resolve(target.LookupName, w.registryURL)
		host := helpers.RegistryHost(repo.Registry)

		if suspended[host] {
			logrus.WithFields(fields).WithField("host", host).Debug("Host suspended, skipping")
			report.Skipped = append(report.Skipped, target.Image)

			continue
		}

		current, err := w.source.GetDigest(ctx, target.LookupName, w.registryURL, target.Tag)
		if err != nil {
			if errclass.IsExternalHostError(err) {
				suspended[host] = true
				report.SuspendedHosts = append(report.SuspendedHosts, host)
			}

			logrus.WithError(err).WithFields(fields).Warn("Digest check failed")
			report.Unresolved = append(report.Unresolved, target.Image)

			continue
		}

		report.Checked++

		if current == "" {
			report.Unresolved = append(report.Unresolved, target.Image)

			continue
		}

		previous, seen := w.last[target.Image]
		w.last[target.Image] = current

		switch {
		case !seen:
			logrus.WithFields(fields).WithField("digest", current).Info("Watching image")
		case previous != current:
			logrus.WithFields(fields).WithFields(logrus.Fields{
				"previous": previous,
				"current":  current,
			}).Info("Image digest changed")

			report.Changed = append(report.Changed, Change{Image: target.Image, Previous: previous, Current: current})
		default:
			logrus.WithFields(fields).Debug("Image digest unchanged")
		}
	}

	return report
}

// Digest returns the last digest seen for image.
func (w *Watcher) Digest(image string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	digest, ok := w.last[image]

	return digest, ok
}

// Digests returns a snapshot of the last digest seen per image.
func (w *Watcher) Digests() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return maps.Clone(w.last)
}
