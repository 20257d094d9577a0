package integrations

import (
	"net/url"
	"regexp"
	"strings"
)

// NormalizePkgName converts a package name to its canonical form: lowercase,
// trimmed, underscores replaced with hyphens (PEP 503 style, harmless for
// npm names which never contain underscores in scoped form).
func NormalizePkgName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}

var repoURLReplacer = strings.NewReplacer(
	"git@github.com:", "https://github.com/",
	"git://github.com/", "https://github.com/",
)

// NormalizeRepoURL converts the repository URL formats found in registry
// metadata (git@, git://, git+ prefixes) to canonical HTTPS form and strips
// trailing .git. Returns empty string for empty input.
func NormalizeRepoURL(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "git+")
	s = repoURLReplacer.Replace(s)
	return strings.TrimSuffix(s, ".git")
}

var githubURLPattern = regexp.MustCompile(`https?://github\.com/([^/]+)/([^/]+?)(?:\.git)?(?:[/?#]|$)`)

// ParseGitHubURL extracts owner and repo from a GitHub URL in any of the
// formats registries publish. Returns ok=false when the URL does not point
// at GitHub.
func ParseGitHubURL(raw string) (owner, repo string, ok bool) {
	u := NormalizeRepoURL(raw)
	if u == "" || strings.Contains(u, "/sponsors/") {
		return "", "", false
	}
	m := githubURLPattern.FindStringSubmatch(u)
	if len(m) < 3 {
		return "", "", false
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), true
}

// URLEncode percent-encodes a string for use in URL paths and queries.
func URLEncode(s string) string { return url.QueryEscape(s) }
