// Package util provides small helpers shared by the regscout commands.
//
// Key components:
//   - FormatDuration: Renders a duration as "1 hour, 2 minutes, 3 seconds".
//   - Unique: Drops repeated strings while keeping their first position.
//
// Usage example:
//
//	until := util.FormatDuration(time.Until(next))
//	images := util.Unique(args)
package util
