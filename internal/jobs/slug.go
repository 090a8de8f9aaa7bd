package jobs

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	slugStrip    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugSeparate = regexp.MustCompile(`[-\s]+`)
)

// Slugify turns a job name into its file-name friendly identifier:
// "Daily AI News!" becomes "daily-ai-news".
func Slugify(name string) string {
	s := slugStrip.ReplaceAllString(name, "")
	s = slugSeparate.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.Trim(strings.ToLower(s), "-")
}

func slugFor(name string) (string, error) {
	slug := Slugify(name)
	if slug == "" {
		return "", fmt.Errorf("%w: name %q has no characters usable in a slug", ErrInvalid, name)
	}
	return slug, nil
}

// withDefault cleans the recipient list and puts def first when it is missing.
func withDefault(recipients []string, def string) []string {
	out := make([]string, 0, len(recipients)+1)
	seen := make(map[string]bool, len(recipients)+1)
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, addr)
	}
	add(def)
	for _, r := range recipients {
		add(r)
	}
	return out
}
