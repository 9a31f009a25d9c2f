package gitblame

import (
	"strconv"
	"strings"
)

// BlameLine is one source line's blame attribution.
type BlameLine struct {
	Line       int      `json:"line"`
	Commit     string   `json:"commit"`
	Author     string   `json:"author"`
	Email      string   `json:"email"`
	AuthorTime int64    `json:"authorTime"`
	TaskIDs    []string `json:"taskIds,omitempty"`
}

// porcelainCommit accumulates the per-commit headers the porcelain stream
// emits once per commit.
type porcelainCommit struct {
	author     string
	email      string
	authorTime int64
	summary    string
}

// parsePorcelain parses `git blame --porcelain` output into per-line
// attributions. The porcelain format emits a header line
// "<sha> <origLine> <finalLine> [<count>]" per blamed line, commit metadata
// lines on a commit's first appearance, and the line content prefixed with
// a tab.
func parsePorcelain(out string) []BlameLine {
	commits := make(map[string]*porcelainCommit)
	var lines []BlameLine

	var current string // sha of the entry being parsed
	var finalLine int

	for _, raw := range strings.Split(out, "\n") {
		if raw == "" {
			continue
		}
		if raw[0] == '\t' {
			// Content line terminates the entry.
			if current == "" {
				continue
			}
			c := commits[current]
			if c == nil {
				c = &porcelainCommit{}
				commits[current] = c
			}
			lines = append(lines, BlameLine{
				Line:       finalLine,
				Commit:     current,
				Author:     c.author,
				Email:      strings.Trim(c.email, "<>"),
				AuthorTime: c.authorTime,
				TaskIDs:    ExtractTaskIDs(c.summary),
			})
			continue
		}

		fields := strings.Fields(raw)
		if len(fields) >= 3 && len(fields[0]) == 40 && isHex(fields[0]) {
			if n, err := strconv.Atoi(fields[2]); err == nil {
				current = fields[0]
				finalLine = n
				if _, ok := commits[current]; !ok {
					commits[current] = &porcelainCommit{}
				}
				continue
			}
		}

		if current == "" {
			continue
		}
		c := commits[current]
		switch {
		case strings.HasPrefix(raw, "author "):
			c.author = strings.TrimPrefix(raw, "author ")
		case strings.HasPrefix(raw, "author-mail "):
			c.email = strings.TrimPrefix(raw, "author-mail ")
		case strings.HasPrefix(raw, "author-time "):
			c.authorTime, _ = strconv.ParseInt(strings.TrimPrefix(raw, "author-time "), 10, 64)
		case strings.HasPrefix(raw, "summary "):
			c.summary = strings.TrimPrefix(raw, "summary ")
		}
	}
	return lines
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// parseLogBodies parses `git log --format=%H%x00%B%x00` output into a
// sha -> full body map.
func parseLogBodies(out string) map[string]string {
	bodies := make(map[string]string)
	parts := strings.Split(out, "\x00")
	for i := 0; i+1 < len(parts); i += 2 {
		sha := strings.TrimSpace(parts[i])
		if len(sha) == 40 && isHex(sha) {
			bodies[sha] = parts[i+1]
		}
	}
	return bodies
}
