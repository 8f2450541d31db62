package render

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// Limits for diagnostic text attached to errors.
const (
	maxDiagnosticLines = 30
	maxDiagnosticBytes = 4 << 10
	tailLines          = 20
)

// contextLineRegex matches the "l.<n> ..." line TeX prints after an error.
var contextLineRegex = regexp.MustCompile(`^l\.\d+`)

// extractDiagnostic pulls the first TeX error out of a log: the "!" line and
// everything up to and including its l.<n> context line. Without an error
// marker it falls back to the tail of stdout.
func extractDiagnostic(log, stdout []byte) string {
	if diag := texError(log); diag != "" {
		return diag
	}
	if diag := texError(stdout); diag != "" {
		return diag
	}
	return tail(stdout, tailLines)
}

func texError(text []byte) string {
	var lines []string
	inError := false

	sc := bufio.NewScanner(bytes.NewReader(text))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !inError {
			if strings.HasPrefix(line, "!") {
				inError = true
				lines = append(lines, line)
			}
			continue
		}
		lines = append(lines, line)
		if contextLineRegex.MatchString(line) || len(lines) >= maxDiagnosticLines {
			break
		}
	}
	return capBytes(strings.Join(lines, "\n"))
}

// tail returns the last n non-empty lines of text.
func tail(text []byte, n int) string {
	raw := strings.Split(strings.TrimRight(string(text), "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return capBytes(strings.Join(lines, "\n"))
}

func capBytes(s string) string {
	if len(s) <= maxDiagnosticBytes {
		return s
	}
	return strings.ToValidUTF8(s[len(s)-maxDiagnosticBytes:], "")
}
