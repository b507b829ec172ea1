package search

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// ReadNames parses a defect-name list. The input is plain text with one name
// per line, or a Markdown table whose first column holds the name.
//
// Notes:
//   - Blank lines, "#" comments and table separator rows are skipped.
//   - A header cell reading "name" or "text" is ignored.
func ReadNames(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "text") || strings.EqualFold(s, "name") {
			return
		}
		out = append(out, s)
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// table row: "| ... |"
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") {
			cols := strings.Split(strings.Trim(line, "|"), "|")

			allSep := true
			first := ""
			for _, c := range cols {
				cell := strings.TrimSpace(c)
				if first == "" {
					first = cell
				}
				tmp := strings.ReplaceAll(cell, ":", "")
				tmp = strings.ReplaceAll(tmp, "-", "")
				if strings.TrimSpace(tmp) != "" {
					allSep = false
				}
			}
			if allSep {
				continue
			}
			add(first)
			continue
		}

		add(line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadNames reads the defect-name list at path. An empty path yields no
// names and no error.
func LoadNames(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadNames(f)
}
