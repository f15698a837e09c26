// Package output implements the sinks that receive delivered items: the
// append-only result file, the optional fan-out to Pub/Sub or Postgres, and the
// post-run archive upload.
package output
