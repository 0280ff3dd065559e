package notifications

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"text/template"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/sirupsen/logrus"

	shoutrrrTypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/nicholas-fedor/regscout/pkg/types"
)

// DefaultTemplate lists one changed image per line.
const DefaultTemplate = `{{- range . -}}
{{ .Image }}: {{ .Previous }} -> {{ .Current }}
{{ end -}}`

var (
	errCreateSender  = errors.New("failed to initialize notification services")
	errParseTemplate = errors.New("failed to parse notification template")
	errRender        = errors.New("failed to render notification")
	errSend          = errors.New("failed to send notification")
)

// LocalLog is a logger whose entries are never forwarded as notifications.
var LocalLog = logrus.WithField("notify", "no")

// Sender delivers a message to every configured service, returning one error slot per service.
type Sender interface {
	Send(message string, params *shoutrrrTypes.Params) []error
}

// Notifier sends digest changes to shoutrrr services. A nil *Notifier is valid and sends nothing.
type Notifier struct {
	urls     []string
	sender   Sender
	template *template.Template
	params   *shoutrrrTypes.Params
}

// GetScheme extracts the scheme of a shoutrrr URL, or "invalid" when it has none.
func GetScheme(url string) string {
	schemeEnd := strings.Index(url, ":")
	if schemeEnd <= 0 {
		return "invalid"
	}

	return url[:schemeEnd]
}

// New creates a Notifier for urls. It returns nil when no URL is configured.
// An empty tplString uses DefaultTemplate.
func New(urls []string, tplString, title string) (*Notifier, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	logger := log.New(logrus.StandardLogger().WriterLevel(logrus.TraceLevel), "Shoutrrr: ", 0)

	sender, err := shoutrrr.NewSender(logger, urls...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCreateSender, err)
	}

	return newNotifier(urls, sender, tplString, title)
}

func newNotifier(urls []string, sender Sender, tplString, title string) (*Notifier, error) {
	if tplString == "" {
		tplString = DefaultTemplate
	}

	tpl, err := template.New("notification").Parse(tplString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errParseTemplate, err)
	}

	params := &shoutrrrTypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	return &Notifier{
		urls:     urls,
		sender:   sender,
		template: tpl,
		params:   params,
	}, nil
}

// GetNames returns the service names of the configured URLs.
func (n *Notifier) GetNames() []string {
	if n == nil {
		return nil
	}

	names := make([]string, len(n.urls))
	for i, u := range n.urls {
		names[i] = GetScheme(u)
	}

	return names
}

// NotifyChanges renders changes and sends them to every service.
// Nothing is sent when changes is empty or the rendered message is blank.
func (n *Notifier) NotifyChanges(changes []types.DigestChange) error {
	if n == nil || len(changes) == 0 {
		return nil
	}

	var body bytes.Buffer
	if err := n.template.Execute(&body, changes); err != nil {
		return fmt.Errorf("%w: %w", errRender, err)
	}

	message := strings.TrimSpace(body.String())
	if message == "" {
		LocalLog.Debug("Skipping notification due to empty message")

		return nil
	}

	var failed []error

	for i, err := range n.sender.Send(message, n.params) {
		if err == nil {
			continue
		}

		scheme := "unknown"
		if i < len(n.urls) {
			scheme = GetScheme(n.urls[i])
		}

		LocalLog.WithFields(logrus.Fields{
			"service": scheme,
			"index":   i,
		}).WithError(err).Error("Failed to send shoutrrr notification")

		failed = append(failed, fmt.Errorf("%w to %s: %w", errSend, scheme, err))
	}

	return errors.Join(failed...)
}
