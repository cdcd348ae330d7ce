package ingestion

import (
	"io"

	"github.com/sirupsen/logrus"
)

func logrusNop() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
