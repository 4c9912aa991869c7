package transport

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event: the event name (may be empty, which
// readers treat as "message") and the joined data lines.
type sseEvent struct {
	name string
	data string
}

// readSSE scans a text/event-stream body and invokes emit for each complete
// event. Comment lines (leading ':') are skipped. Returns the read error
// that ended the stream, or nil on clean EOF.
func readSSE(body io.Reader, emit func(ev sseEvent)) error {
	reader := bufio.NewReader(body)
	var name string
	var data []string

	flush := func() {
		if name == "" && len(data) == 0 {
			return
		}
		emit(sseEvent{name: name, data: strings.Join(data, "\n")})
		name = ""
		data = nil
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				flush()
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// heartbeat/comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
