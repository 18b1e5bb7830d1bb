// Package layout finds subject scans in a BIDS-style tree and decides where
// every produced artifact is published.
//
// Routing is a pure function of (subject, session, scan, output name) so
// the same inputs always land on the same path and two subjects, sessions or
// runs never collide. Publishing copies artifacts out of stage work
// directories under a per-subject flock so concurrent invocations for the
// same subject cannot interleave writes.
package layout
