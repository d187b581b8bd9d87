package discovery

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RepoURLParts holds the parsed components of a GitHub repository URL.
type RepoURLParts struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
}

// githubBlobTreePattern matches GitHub blob or tree URLs.
// Format: https://github.com/{owner}/{repo}/{blob|tree}/{ref}/{path...}
var githubBlobTreePattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(blob|tree)/([^/]+)(?:/(.*))?$`)

// ownerRepoPattern matches the "owner/repo" shorthand.
var ownerRepoPattern = regexp.MustCompile(`^([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)$`)

// isCardFile reports whether a file name looks like a library card.
func isCardFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".md")
}

// SplitOwnerRepo resolves a lookup name to a GitHub (owner, repo) pair.
// Accepts the "owner/repo" shorthand and full github.com repository URLs.
func SplitOwnerRepo(name string) (owner, repo string, ok bool) {
	if m := ownerRepoPattern.FindStringSubmatch(name); m != nil {
		return m[1], m[2], true
	}

	parsed, err := url.Parse(name)
	if err != nil || (parsed.Host != "github.com" && parsed.Host != "www.github.com") {
		return "", "", false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", false
	}
	return segments[0], segments[1], true
}

// ConvertToRawURL converts a GitHub blob URL to a raw content URL.
// Returns the URL unchanged if already raw or not a recognized GitHub URL.
func ConvertToRawURL(githubURL string) string {
	parsed, err := url.Parse(githubURL)
	if err != nil {
		return githubURL
	}

	// Already a raw URL, pass through.
	if parsed.Host == "raw.githubusercontent.com" {
		return githubURL
	}

	// Only convert github.com URLs
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return githubURL
	}

	matches := githubBlobTreePattern.FindStringSubmatch(parsed.Path)
	if matches == nil {
		return githubURL
	}

	owner := matches[1]
	repo := matches[2]
	// matches[3] is "blob" or "tree"
	ref := matches[4]
	path := matches[5]

	// Build raw URL: https://raw.githubusercontent.com/{owner}/{repo}/refs/heads/{ref}/{path}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s", owner, repo, ref, path)
}

// ParseRepoURL parses a GitHub tree/blob URL into components.
// Supports: https://github.com/{owner}/{repo}/tree/{ref}/{path}
func ParseRepoURL(rawURL string) (*RepoURLParts, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return nil, fmt.Errorf("not a GitHub URL: %s", parsed.Host)
	}

	matches := githubBlobTreePattern.FindStringSubmatch(parsed.Path)
	if matches == nil {
		return nil, fmt.Errorf("URL does not match GitHub blob/tree pattern: %s", parsed.Path)
	}

	return &RepoURLParts{
		Owner: matches[1],
		Repo:  matches[2],
		Ref:   matches[4],
		Path:  matches[5],
	}, nil
}

// ValidateLookupURL checks that the URL uses an allowed scheme and domain.
func ValidateLookupURL(rawURL string, allowedDomains []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	// Scheme check
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q: only http and https allowed", parsed.Scheme)
	}

	// Domain allowlist check (if configured)
	if len(allowedDomains) > 0 {
		host := strings.ToLower(parsed.Hostname())
		allowed := false
		for _, domain := range allowedDomains {
			if host == domain || host == "www."+domain {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("domain %q not in allowed list", host)
		}
	}

	return nil
}
