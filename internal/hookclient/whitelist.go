package hookclient

import "strings"

// safeCommandPrefixes lists read-only shell invocations that never
// need a remote decision. Matching is prefix-at-token-boundary, so
// "git status" covers "git status -sb" but not "git stash".
var safeCommandPrefixes = []string{
	"git status",
	"git log",
	"git diff",
	"git branch",
	"git show",
	"ls",
	"pwd",
	"cat",
	"head",
	"tail",
	"grep",
	"rg",
	"find",
	"which",
	"wc",
	"echo",
	"env",
	"whoami",
	"date",
}

// IsSafeCommand reports whether the command matches the local
// allow-list of non-destructive prefixes.
func IsSafeCommand(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	for _, prefix := range safeCommandPrefixes {
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return true
		}
	}
	return false
}
