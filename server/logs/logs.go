/******************************************************************************
 *
 *  Description :
 *    Package exposes info, warning and error loggers.
 *
 *****************************************************************************/

package logs

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// Info is a logger at the 'info' logging level.
	Info *log.Logger
	// Warn is a logger at the 'warning' logging level.
	Warn *log.Logger
	// Err is a logger at the 'error' logging level.
	Err *log.Logger
)

func init() {
	// Usable before Init is called, e.g. in tests.
	Init("stderr", "stdFlags")
}

// parseFlags converts a comma-separated list of flag names into log.Lxxx bits.
// Unknown names are ignored.
func parseFlags(logFlags string) int {
	flags := 0
	for _, f := range strings.Split(logFlags, ",") {
		switch strings.TrimSpace(f) {
		case "date":
			flags |= log.Ldate
		case "time":
			flags |= log.Ltime
		case "microseconds":
			flags |= log.Lmicroseconds
		case "longfile":
			flags |= log.Llongfile
		case "shortfile":
			flags |= log.Lshortfile
		case "UTC":
			flags |= log.LUTC
		case "msgprefix":
			flags |= log.Lmsgprefix
		case "stdFlags":
			flags |= log.LstdFlags
		}
	}
	if flags == 0 {
		flags = log.LstdFlags
	}
	return flags
}

// Init initializes the loggers.
//
// output is one of "stdout", "stderr" or "json". The "json" output writes one
// JSON object per line to stdout with "level", "time" and "message" fields;
// logFlags are ignored in that mode except for file name reporting.
func Init(output, logFlags string) {
	flags := parseFlags(logFlags)

	switch output {
	case "json":
		base := zerolog.New(os.Stdout).With().Timestamp().Logger()
		// zerolog stamps its own time.
		flags &= log.Lshortfile | log.Llongfile
		Info = log.New(levelWriter(base, zerolog.InfoLevel), "", flags)
		Warn = log.New(levelWriter(base, zerolog.WarnLevel), "", flags)
		Err = log.New(levelWriter(base, zerolog.ErrorLevel), "", flags)
	default:
		var w io.Writer = os.Stderr
		if output == "stdout" {
			w = os.Stdout
		}
		Info = log.New(w, "I", flags)
		Warn = log.New(w, "W", flags)
		Err = log.New(w, "E", flags)
	}
}

// levelWriter returns an io.Writer which emits every written line as a zerolog
// record at the given level.
func levelWriter(base zerolog.Logger, lvl zerolog.Level) io.Writer {
	return base.With().Str(zerolog.LevelFieldName, lvl.String()).Logger()
}
