package server

import (
	"io"
	"strings"
)

// writeEvent frames a named server-sent event. Multi-line payloads are split
// across repeated data: lines; an empty payload still gets one empty data:
// line so the event is delivered.
func writeEvent(w io.Writer, name, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	if data == "" {
		b.WriteString("\ndata: ")
	} else {
		for _, line := range strings.Split(strings.TrimSuffix(data, "\n"), "\n") {
			b.WriteString("\ndata: ")
			b.WriteString(line)
		}
	}
	b.WriteString("\n\n")
	_, err := io.WriteString(w, b.String())
	return err
}
