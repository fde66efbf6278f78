// Package dedupe remembers recently seen inbound event keys so chat surfaces
// can drop redelivered events. Slack retries events it thinks went
// unacknowledged and Matrix can replay timeline events after a resync; both
// surfaces call Seen with a stable key before starting a round trip.
package dedupe
