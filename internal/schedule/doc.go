// Package schedule resolves the next countdown target from a declarative schedule.
//
// # Schedule variants
//
//   - OneShot: a single absolute instant. Once it passes it stays passed.
//   - Daily: a UTC time of day. Rolls to the next calendar day once reached.
//   - Weekly: a day of week (0 = Sunday) plus a UTC time of day.
//   - Cron: a seconds-first cron expression or descriptor, evaluated in UTC.
//
// All arithmetic is done on the UTC calendar with time.Date, so daylight saving
// transitions never shift a target.
//
// # Boundary rule
//
// A recurring target equal to "now" counts as already passed. ResolveNextTarget
// therefore always returns an instant strictly after now for recurring kinds,
// and the tick that lands exactly on a target never resolves the same target again.
//
// Both ResolveNextTarget and FromSpec are pure: they read no globals and keep no state.
package schedule
