package command

import (
	"bufio"
	"bytes"
	"flag"

	"github.com/hashicorp/cli"
	"github.com/posener/complete"
)

// Meta contains the meta-options and functionality that nearly every
// betwatch command inherits.
type Meta struct {
	Ui cli.Ui
}

// FlagSet returns a FlagSet with the common behavior every command
// implements: errors go through the UI instead of stderr.
func (m *Meta) FlagSet(n string) *flag.FlagSet {
	f := flag.NewFlagSet(n, flag.ContinueOnError)
	f.SetOutput(&uiErrorWriter{ui: m.Ui})
	return f
}

// AutocompleteFlags returns a set of flag completions for the given flag set.
func (m *Meta) AutocompleteFlags() complete.Flags {
	return nil
}

// AutocompleteArgs returns the argument predictor for this command.
func (m *Meta) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

// uiErrorWriter turns io.Writer writes into ui.Error calls, buffering
// partial lines until a newline arrives.
type uiErrorWriter struct {
	ui  cli.Ui
	buf bytes.Buffer
}

func (w *uiErrorWriter) Write(data []byte) (int, error) {
	read := 0
	for len(data) > 0 {
		a, token, err := bufio.ScanLines(data, false)
		if err != nil {
			return read, err
		}
		if a == 0 {
			r, err := w.buf.Write(data)
			return read + r, err
		}

		w.ui.Error(w.buf.String() + string(token))
		w.buf.Reset()

		data = data[a:]
		read += a
	}
	return read, nil
}

func (w *uiErrorWriter) Close() error {
	// Flush any remaining text.
	if w.buf.Len() != 0 {
		w.ui.Error(w.buf.String())
		w.buf.Reset()
	}
	return nil
}
