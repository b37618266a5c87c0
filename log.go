package membuf

import "github.com/sirupsen/logrus"

// newLogger mirrors the teacher's fs.Debugf(subject, format, args...)
// call shape (see backend/cache/handle.go) but is backed by logrus instead
// of rclone's internal fs package, since the cache never owns the host and
// takes a logger handle explicitly at construction (see SPEC_FULL.md,
// "Cyclic ownership").
func newLogger(entry *logrus.Entry, subject string) *logrus.Entry {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return entry.WithField("membuf", subject)
}
