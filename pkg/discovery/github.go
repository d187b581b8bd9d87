package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxCardBytes caps a downloaded card body. Cards are short markdown
// documents; anything larger is a misconfigured URL.
const maxCardBytes = 256 * 1024

// GitHubClient provides HTTP access to GitHub for repository metadata and
// raw card content.
type GitHubClient struct {
	httpClient *http.Client
	token      string
	logger     *slog.Logger
}

// NewGitHubClient creates an HTTP client for GitHub operations.
// token may be empty (public repos only, lower rate limits).
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		logger:     slog.Default(),
	}
}

// RepoMetadata is the subset of the GitHub repository response the lookup
// cares about.
type RepoMetadata struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Stars       int    `json:"stargazers_count"`
	Language    string `json:"language"`
	Homepage    string `json:"homepage"`
	HTMLURL     string `json:"html_url"`
}

// FetchRepoMetadata fetches repository info from the GitHub API.
func (c *GitHubClient) FetchRepoMetadata(ctx context.Context, owner, repo string) (*RepoMetadata, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s", owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch repo %s/%s: %w", owner, repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d for %s/%s", resp.StatusCode, owner, repo)
	}

	var meta RepoMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode repo response: %w", err)
	}
	return &meta, nil
}

// LatestReleaseTag returns the tag of the latest release, or "" when the
// repository has none.
func (c *GitHubClient) LatestReleaseTag(ctx context.Context, owner, repo string) (string, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release for %s/%s: %w", owner, repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub API returned HTTP %d for %s/%s releases", resp.StatusCode, owner, repo)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("decode release response: %w", err)
	}
	return release.TagName, nil
}

// DownloadContent fetches raw content from a GitHub URL.
// Converts blob URLs to raw.githubusercontent.com URLs.
// Handles authentication via bearer token.
func (c *GitHubClient) DownloadContent(ctx context.Context, rawURL string) (string, error) {
	downloadURL := ConvertToRawURL(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch card from %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub returned HTTP %d for %s", resp.StatusCode, downloadURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCardBytes))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	return string(body), nil
}

// githubContentItem represents a single item from the GitHub Contents API
// response.
type githubContentItem struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Type    string `json:"type"` // "file" or "dir"
	HTMLURL string `json:"html_url"`
}

// ListCardFiles returns all .md file URLs under a GitHub tree URL.
// Uses the GitHub Contents API recursively.
func (c *GitHubClient) ListCardFiles(ctx context.Context, repoURL string) ([]string, error) {
	parts, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, fmt.Errorf("parse repo URL: %w", err)
	}
	return c.listCardFilesRecursive(ctx, parts.Owner, parts.Repo, parts.Ref, parts.Path)
}

func (c *GitHubClient) listCardFilesRecursive(ctx context.Context, owner, repo, ref, path string) ([]string, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/contents/%s?ref=%s", owner, repo, path, ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list contents at %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d for path %q", resp.StatusCode, path)
	}

	var items []githubContentItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode contents response: %w", err)
	}

	var cards []string
	for _, item := range items {
		switch item.Type {
		case "file":
			if isCardFile(item.Name) {
				cards = append(cards, item.HTMLURL)
			}
		case "dir":
			subFiles, err := c.listCardFilesRecursive(ctx, owner, repo, ref, item.Path)
			if err != nil {
				c.logger.Warn("Failed to list subdirectory", "path", item.Path, "error", err)
				continue
			}
			cards = append(cards, subFiles...)
		}
	}

	return cards, nil
}

func (c *GitHubClient) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
