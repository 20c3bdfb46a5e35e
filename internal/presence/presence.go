// Package presence manages anonymous client sessions and their liveness.
// Every connected client owns exactly one session record in Redis; a
// periodic heartbeat keeps it alive and a background sweep reaps sessions
// whose heartbeat has gone stale. The sweep is the only component allowed
// to decide that a client is gone — clients frequently vanish without any
// disconnect signal.
package presence
