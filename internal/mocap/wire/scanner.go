package wire

import (
	"bufio"
	"io"
	"strings"
)

// maxRecordSize bounds a single record line; a full six-body kb record is
// well under 32 KiB.
const maxRecordSize = 256 * 1024

// Scanner reads newline-delimited records from an io.Reader, skipping
// blank lines and lines without a known prefix.
type Scanner struct {
	sc   *bufio.Scanner
	line string
	kind string

	// Skipped counts non-blank lines with an unknown prefix.
	Skipped int
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	return &Scanner{sc: sc}
}

// Scan advances to the next record. It returns false at EOF or on a read error.
func (s *Scanner) Scan() bool {
	for s.sc.Scan() {
		line := strings.TrimSpace(s.sc.Text())
		if line == "" {
			continue
		}
		switch k := Kind(line); k {
		case KindBodies, KindHands, KindMatrix:
			s.line, s.kind = line, k
			return true
		default:
			s.Skipped++
		}
	}
	return false
}

// Text returns the current record.
func (s *Scanner) Text() string { return s.line }

// Kind returns the prefix of the current record.
func (s *Scanner) Kind() string { return s.kind }

// Err returns the first non-EOF read error.
func (s *Scanner) Err() error { return s.sc.Err() }
