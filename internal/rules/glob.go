package rules

import (
	"regexp"
	"strings"
)

// MatchCommand reports whether a glob pattern matches the entire command.
// Patterns match shell command text, not file paths: `*` and `**` both
// translate to a greedy any-character match, `?` to a single character.
// A pattern that fails to compile falls back to exact string equality.
func MatchCommand(pattern, command string) bool {
	re, err := compileGlob(pattern)
	if err != nil {
		return pattern == command
	}
	return re.MatchString(command)
}

func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			// Runs of stars collapse into one wildcard.
			for i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
			}
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// CommandPattern derives an auto-allow pattern from a command by keeping
// its first two whitespace-separated tokens and appending a wildcard, so
// "git push origin main" becomes "git push**".
func CommandPattern(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) == 1 {
		return fields[0] + "**"
	}
	return fields[0] + " " + fields[1] + "**"
}
