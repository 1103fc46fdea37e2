package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Headers written as the first line of a newly created ledger.
const (
	URLHeader  = "# collected URLs (psahunter)"
	CertHeader = "# certs (psahunter)"
)

// Ledger is an append-only line file. Lines starting with '#' are comments.
type Ledger struct {
	path   string
	header string
}

// Open returns a ledger at path, creating its parent directory. The file
// itself is created on the first Append.
func Open(path, header string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &Ledger{path: path, header: header}, nil
}

// Path returns the file path.
func (l *Ledger) Path() string {
	return l.path
}

// Entries returns every non-empty, non-comment line, trimmed. A missing
// file has no entries.
func (l *Ledger) Entries() ([]string, error) {
	return ReadLines(l.path)
}

// ReadLines reads a line file the way ledgers are read. Query and feed
// lists use the same format.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, nil
}

// Append writes lines at the end of the file in a single write. A new or
// empty file gets the header first.
func (l *Ledger) Append(lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	var b strings.Builder

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek ledger: %w", err)
	}
	if size == 0 && l.header != "" {
		b.WriteString(l.header)
		b.WriteByte('\n')
	}
	if size > 0 {
		// keep the previous last line intact when it has no newline
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}
		if last[0] != '\n' {
			b.WriteByte('\n')
		}
	}

	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}

// URLs is the ledger of collected page URLs.
type URLs struct {
	*Ledger
}

// OpenURLs opens the URL ledger.
func OpenURLs(path string) (*URLs, error) {
	l, err := Open(path, URLHeader)
	if err != nil {
		return nil, err
	}
	return &URLs{Ledger: l}, nil
}

// Read returns the ledger's URLs in file order. A trailing " # comment" is
// dropped.
func (u *URLs) Read() ([]string, error) {
	lines, err := u.Entries()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if url := strings.Fields(line)[0]; !strings.HasPrefix(url, "#") {
			out = append(out, url)
		}
	}
	return out, nil
}

// Certs is the ledger of discovered certificate numbers.
type Certs struct {
	*Ledger
}

// CertEntry is one certificate ledger line.
type CertEntry struct {
	Number      string
	Description string
}

// OpenCerts opens the certificate ledger.
func OpenCerts(path string) (*Certs, error) {
	l, err := Open(path, CertHeader)
	if err != nil {
		return nil, err
	}
	return &Certs{Ledger: l}, nil
}

// Read returns the parsed entries in file order, skipping lines without
// digits before the comment.
func (c *Certs) Read() ([]CertEntry, error) {
	lines, err := c.Entries()
	if err != nil {
		return nil, err
	}

	out := make([]CertEntry, 0, len(lines))
	for _, line := range lines {
		if e, ok := ParseCertLine(line); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// AppendEntries formats and appends entries.
func (c *Certs) AppendEntries(entries []CertEntry) error {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = FormatCertLine(e)
	}
	return c.Append(lines)
}

// ParseCertLine splits "<digits>   # <description>". The number is every
// digit before the first '#'.
func ParseCertLine(line string) (CertEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return CertEntry{}, false
	}

	numPart, desc, _ := strings.Cut(line, "#")

	var digits strings.Builder
	for _, r := range numPart {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return CertEntry{}, false
	}

	return CertEntry{Number: digits.String(), Description: strings.TrimSpace(desc)}, true
}

// FormatCertLine renders an entry in ledger form.
func FormatCertLine(e CertEntry) string {
	if e.Description == "" {
		return e.Number
	}
	return e.Number + "   # " + e.Description
}
