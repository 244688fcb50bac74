// Package klog provides structured field logging for the kernel's own
// bootstrap and diagnostic paths — partition summaries, LBTS round
// stalls, bus transport failures — using the pack's structured logger
// where the teacher's own per-event Hook mechanism (see lp.Hook) is too
// coarse-grained: those paths run before any executor exists to own a
// hook, or need key/value fields a plain event trace doesn't carry.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a shorthand alias so callers don't need to import logrus
// directly for the common case of attaching a handful of key/value
// pairs to a log line.
type Fields = logrus.Fields

var std = newLogger()

// runID is attached to every line once a SimulatorFacade sets it via
// SetRunID. Left empty, no run_id field is added — this keeps single-shot
// uses (tests, the partition-preview CLI) free of a field nobody asked for.
var runID string

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel adjusts the package-wide log level, e.g. logrus.DebugLevel to
// see every LBTS round's LBTSMessage summary.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

// SetRunID attaches id as a "run_id" field to every subsequent line this
// package logs, so a run's log stream can be correlated with its
// monitor.Hub/monitor.Metrics telemetry and, in a multi-host run, with the
// other hosts' own log streams. Call once at startup with
// kernel.RunID().Generate().
func SetRunID(id string) {
	runID = id
}

func withRunID(fields Fields) Fields {
	if runID == "" {
		return fields
	}
	out := make(Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["run_id"] = runID
	return out
}

// Partition logs the outcome of an auto-partition pass.
func Partition(fields Fields, msg string) {
	std.WithFields(withRunID(fields)).Info(msg)
}

// LBTSRound logs one distributed round's aggregate LBTS state.
func LBTSRound(fields Fields, msg string) {
	std.WithFields(withRunID(fields)).Debug(msg)
}

// TransportError logs a bus failure that aborted a round.
func TransportError(err error, fields Fields) {
	std.WithFields(withRunID(fields)).WithError(err).Error("distexec: bus transport failure")
}

// Fatal logs msg with fields and then terminates the process, matching
// the teacher's log.Fatalf discipline for configuration and partition
// errors the kernel cannot recover from.
func Fatal(fields Fields, msg string) {
	std.WithFields(withRunID(fields)).Fatal(msg)
}
