package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/grafana/regexp"
)

var attrPattern = regexp.MustCompile(`([A-Za-z0-9_-]+)="([^"]*)"`)

// Entry is one channel read from an extended M3U document.
type Entry struct {
	Name       string
	URL        string
	Attributes map[string]string
}

// ParseM3U reads an extended M3U document and returns its entries in order. Lines that are
// neither #EXTINF tags nor http(s) URLs are ignored, and a URL without a preceding #EXTINF
// becomes an entry named after nothing but its URL.
func ParseM3U(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		current map[string]string
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			current = ParseEXTINF(line)
		case strings.HasPrefix(line, "http://"), strings.HasPrefix(line, "https://"):
			attrs := current
			if attrs == nil {
				attrs = map[string]string{}
			}
			name := attrs["tvg-name"]
			if name == "" {
				name = line
			}
			entries = append(entries, Entry{Name: name, URL: line, Attributes: attrs})
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ParseEXTINF splits an #EXTINF line into its key="value" attributes. The display name after
// the first unquoted comma is stored under "tvg-name" unless the line already carries one,
// and the leading duration under "duration".
func ParseEXTINF(line string) map[string]string {
	attrs := make(map[string]string)
	line = strings.TrimPrefix(line, "#EXTINF:")

	comma := -1
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				comma = i
			}
		}
		if comma != -1 {
			break
		}
	}
	if comma == -1 {
		return attrs
	}

	attrPart := strings.TrimSpace(line[:comma])
	displayName := strings.TrimSpace(line[comma+1:])

	if fields := strings.Fields(attrPart); len(fields) > 0 && !strings.Contains(fields[0], "=") {
		attrs["duration"] = fields[0]
	}
	for _, m := range attrPattern.FindAllStringSubmatch(attrPart, -1) {
		attrs[m[1]] = m[2]
	}

	if displayName != "" {
		attrs["display-name"] = displayName
		if attrs["tvg-name"] == "" {
			attrs["tvg-name"] = displayName
		}
	}
	return attrs
}
