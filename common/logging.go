package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to the right stream: error
// level messages go to stderr for immediate attention, everything else to
// stdout for general processing. Container orchestrators and log
// aggregators can then treat the two streams differently.
//
// Detection is a plain byte search for the "level=error" marker that
// logrus's text formatter emits, which keeps the splitter allocation-free.
// JSON-formatted lines carry no such marker and always go to stdout.
type OutputSplitter struct{}

// Write implements io.Writer, selecting the stream per message.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance shared by every component that does
// not carry its own configured logger. It is pre-wired with the
// OutputSplitter; services typically replace formatter and level at
// startup via NewLogger.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
