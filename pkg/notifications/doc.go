// Package notifications sends digest change notifications through shoutrrr.
//
// Key components:
//   - Notifier: Renders changed digests with a text/template and fans the message out to every service URL.
//   - Sender: The shoutrrr router abstraction, replaceable in tests.
//   - GetScheme: Names a service by its URL scheme.
//
// Usage example:
//
//	notifier, err := notifications.New([]string{"slack://token@channel"}, "", "regscout")
//	if err != nil {
//	    return err
//	}
//	notifier.NotifyChanges(report.Changed)
package notifications
