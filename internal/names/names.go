// Package names holds the shared validation rules for user-visible names:
// project names, role names, and usernames.
package names

import (
	"fmt"
	"regexp"
	"strings"
)

// Project and role names: must start with a word character and may contain
// word characters, spaces, parentheses, dots, commas, and hyphens.
var nameRegex = regexp.MustCompile(`^[\w_][\w_ \(\)\.,\-]*$`)

// Usernames: must start with a letter and may contain letters, digits,
// underscores, and hyphens.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-]*$`)

const (
	maxNameLen     = 50
	maxUsernameLen = 25
)

// IsValid reports whether name is acceptable as a project or role name.
func IsValid(name string) bool {
	if len(name) == 0 || len(name) > maxNameLen {
		return false
	}
	return nameRegex.MatchString(name) && !ContainsProfanity(name)
}

// IsValidUsername reports whether username is acceptable as an account name.
func IsValidUsername(username string) bool {
	if len(username) == 0 || len(username) > maxUsernameLen {
		return false
	}
	return usernameRegex.MatchString(username) && !ContainsProfanity(username)
}

// Unique returns name if it does not collide with any existing name, and
// otherwise the first "name (N)" with N starting at 2 that is free.
func Unique(name string, existing []string) string {
	taken := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		taken[e] = struct{}{}
	}

	if _, ok := taken[name]; !ok {
		return name
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", name, n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// ApprovalRequired reports whether project content needs moderator approval
// before it can be published publicly. Content that embeds JavaScript or
// contains profanity is held for review.
func ApprovalRequired(content string) bool {
	return strings.Contains(content, "reportJSFunction") || ContainsProfanity(content)
}
