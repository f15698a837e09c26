// Package input loads the newline-delimited item and replica address files.
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

// ReadLines returns every trimmed, non-blank line of r in order. Duplicates are kept.
func ReadLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var out []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lines: %w", err)
	}
	return out, nil
}

// ReadItems loads the item file.
func ReadItems(path string) ([]string, error) {
	lines, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	return lines, nil
}

// ReadReplicas loads the replica address file. Trailing slashes are trimmed and
// repeated addresses collapse to one replica.
func ReadReplicas(path string) ([]harvest.Replica, error) {
	lines, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read address file: %w", err)
	}
	seen := make(map[string]struct{}, len(lines))
	replicas := make([]harvest.Replica, 0, len(lines))
	for _, line := range lines {
		r := harvest.NewReplica(line)
		if r.Address == "" {
			continue
		}
		if _, dup := seen[r.Address]; dup {
			continue
		}
		seen[r.Address] = struct{}{}
		replicas = append(replicas, r)
	}
	if len(replicas) == 0 {
		return nil, harvest.ErrNoReplicas
	}
	return replicas, nil
}

func readFile(path string) ([]string, error) {
	// #nosec G304 -- paths are operator-supplied CLI arguments.
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadLines(f)
}
