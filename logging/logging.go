// Package logging provides the leveled, subject-tagged logging helpers
// used across the registry, in the style of the teacher's fs.Debugf /
// fs.Logf / fs.Errorf family, backed by logrus instead of a bespoke
// sink.
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Log is the package-wide logger. Replace it (e.g. in tests or in
// cmd/storagefsd) to change format or level.
var Log = logrus.StandardLogger()

func format(subject interface{}, format string, args []interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if subject == nil {
		return msg
	}
	return fmt.Sprintf("%v: %s", subject, msg)
}

// Debugf logs detail useful when diagnosing a specific subject (a
// scheme, a mount, a storable ID).
func Debugf(subject interface{}, f string, args ...interface{}) {
	Log.Debug(format(subject, f, args))
}

// Infof logs a routine state change (mount installed, restore step
// completed).
func Infof(subject interface{}, f string, args ...interface{}) {
	Log.Info(format(subject, f, args))
}

// Logf is an alias for Infof kept for parity with the teacher's
// naming; call sites that just want "something worth noting, not an
// error" use this.
func Logf(subject interface{}, f string, args ...interface{}) {
	Infof(subject, f, args...)
}

// Errorf logs a failure, whether it is also returned to the caller as
// an error or (as with per-mount restore failures) only logged.
func Errorf(subject interface{}, f string, args ...interface{}) {
	Log.Error(format(subject, f, args))
}
