// Package journal is the append-only record of countdown transitions
// (unseal, rollover, configuration loss and recovery).
//
// It is an audit trail only. The countdown never reads it back to restore
// state: after a restart the target is recomputed from wall-clock time.
package journal
