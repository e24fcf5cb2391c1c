package proxy

import (
	"fmt"
	"os"
	"strings"
)

// ReadList reads candidate proxies from a file, one address per line.
// Supports:
// - bare addresses: "34.195.196.27:8080" (HTTP proxy)
// - explicit schemes: "socks5://10.0.0.1:1080"
// - blank lines and "#" comments, which are skipped
// Duplicate addresses keep their first position.
func ReadList(filename string) ([]*Proxy, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy list: %w", err)
	}
	return ParseList(string(content))
}

// ParseList parses proxy list content, see ReadList
func ParseList(content string) ([]*Proxy, error) {
	var proxies []*Proxy
	seen := make(map[string]bool)

	for i, line := range splitLines(content) {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}

		p, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		seen[line] = true
		proxies = append(proxies, p)
	}

	return proxies, nil
}

// splitLines splits a string by newlines, dropping carriage returns
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(s, "\r", ""), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
