package zuora

import (
	"bufio"
	"io"
)

// LineReader lazily yields lines from a streamed HTTP body, matching
// Python requests' iter_lines(): callers pull one line at a time and the
// underlying connection is consumed exactly once (spec.md §4.5).
type LineReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

func newLineReader(body io.ReadCloser) *LineReader {
	scanner := bufio.NewScanner(body)
	// Export lines (wide CSV rows) can exceed bufio's 64KiB default.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)
	return &LineReader{scanner: scanner, closer: body}
}

// Next returns the next line (without its trailing newline) and true, or
// ("", false) at end of stream. Scan errors are surfaced via Err.
func (l *LineReader) Next() (string, bool) {
	if l.scanner.Scan() {
		return l.scanner.Text(), true
	}
	return "", false
}

func (l *LineReader) Err() error {
	return l.scanner.Err()
}

func (l *LineReader) Close() error {
	return l.closer.Close()
}
