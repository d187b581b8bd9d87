package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/storage"
)

// persistTTL is how long a stored card stays authoritative before a lookup
// refetches it. The in-memory cache uses the much shorter configured TTL.
const persistTTL = 24 * time.Hour

// Service resolves library names to cards through three tiers: in-memory
// cache, persistent library cache, and outbound GitHub fetch.
type Service struct {
	github *GitHubClient
	cache  *Cache
	store  storage.LibraryStore
	cfg    *config.DiscoveryConfig
	logger *slog.Logger
}

// NewService creates the discovery service. store may be nil, which skips
// the persistent tier.
func NewService(cfg *config.DiscoveryConfig, store storage.LibraryStore, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultDiscoveryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	cacheTTL := 1 * time.Minute
	if cfg.CacheTTL > 0 {
		cacheTTL = cfg.CacheTTL
	}

	var token string
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
	}

	return &Service{
		github: NewGitHubClient(token),
		cache:  NewCache(cacheTTL),
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "discovery"),
	}
}

// Lookup resolves a library name to a card. Names may be a bare card name
// from the configured index repository, an "owner/repo" shorthand, or a
// full github.com repository URL.
func (s *Service) Lookup(ctx context.Context, name string) (*models.LibraryCard, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("library name is empty")
	}

	if cached, ok := s.cache.Get(name); ok {
		if card, ok := cached.(*models.LibraryCard); ok {
			return card, nil
		}
	}

	if s.store != nil {
		stored, err := s.store.GetLibraryCard(ctx, name)
		if err != nil {
			s.logger.Warn("library cache read failed", "name", name, "error", err)
		}
		if stored != nil && time.Since(stored.FetchedAt) < persistTTL {
			s.cache.Set(name, stored)
			return stored, nil
		}
	}

	card, err := s.fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	card.FetchedAt = time.Now().UTC()

	if s.store != nil {
		if err := s.store.SaveLibraryCard(ctx, card); err != nil {
			s.logger.Warn("failed to persist library card", "name", name, "error", err)
		}
	}
	s.cache.Set(name, card)

	s.logger.Info("library card fetched", "name", name, "ecosystem", card.Ecosystem)
	return card, nil
}

func (s *Service) fetch(ctx context.Context, name string) (*models.LibraryCard, error) {
	if owner, repo, ok := SplitOwnerRepo(name); ok {
		return s.fetchRepoCard(ctx, name, owner, repo)
	}
	return s.fetchIndexCard(ctx, name)
}

// fetchRepoCard builds a card from GitHub repository metadata.
func (s *Service) fetchRepoCard(ctx context.Context, name, owner, repo string) (*models.LibraryCard, error) {
	canonical := fmt.Sprintf("https://github.com/%s/%s", owner, repo)
	if err := ValidateLookupURL(canonical, s.cfg.AllowedDomains); err != nil {
		return nil, err
	}

	meta, err := s.github.FetchRepoMetadata(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	tag, err := s.github.LatestReleaseTag(ctx, owner, repo)
	if err != nil {
		// Releases are decoration; the card stands without one.
		s.logger.Debug("release lookup failed", "repo", meta.FullName, "error", err)
	}

	card := &models.LibraryCard{
		Name:        name,
		Description: meta.Description,
		Ecosystem:   strings.ToLower(meta.Language),
		Homepage:    meta.HTMLURL,
	}
	if meta.Homepage != "" {
		card.Homepage = meta.Homepage
	}
	if strings.EqualFold(meta.Language, "go") {
		card.Install = fmt.Sprintf("go get github.com/%s/%s", owner, repo)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d stars)", meta.FullName, meta.Stars)
	if meta.Description != "" {
		fmt.Fprintf(&b, "\n%s", meta.Description)
	}
	if tag != "" {
		fmt.Fprintf(&b, "\nLatest release: %s", tag)
	}
	card.Content = b.String()

	return card, nil
}

// fetchIndexCard downloads <name>.md from the configured index repository.
// Tree-style index URLs are resolved through the Contents API listing;
// raw-content bases are addressed directly.
func (s *Service) fetchIndexCard(ctx context.Context, name string) (*models.LibraryCard, error) {
	if s.cfg.RepoURL == "" {
		return nil, fmt.Errorf("no card repository configured for bare name %q", name)
	}

	cardURL, err := s.resolveCardURL(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := ValidateLookupURL(cardURL, s.cfg.AllowedDomains); err != nil {
		return nil, err
	}

	content, err := s.github.DownloadContent(ctx, cardURL)
	if err != nil {
		return nil, fmt.Errorf("fetch card %q: %w", name, err)
	}
	return parseCard(name, content), nil
}

func (s *Service) resolveCardURL(ctx context.Context, name string) (string, error) {
	base := strings.TrimSuffix(s.cfg.RepoURL, "/")

	// A tree URL means the index layout is unknown; list it once per TTL
	// and match on the file name.
	if _, err := ParseRepoURL(base); err == nil {
		files, err := s.cardFiles(ctx, base)
		if err != nil {
			return "", err
		}
		want := strings.ToLower(name) + ".md"
		for _, f := range files {
			if strings.ToLower(path.Base(f)) == want {
				return f, nil
			}
		}
		return "", fmt.Errorf("no card named %q in index %s", name, base)
	}

	return base + "/" + name + ".md", nil
}

func (s *Service) cardFiles(ctx context.Context, base string) ([]string, error) {
	const indexKey = "index:"

	if cached, ok := s.cache.Get(indexKey + base); ok {
		if files, ok := cached.([]string); ok {
			return files, nil
		}
	}

	files, err := s.github.ListCardFiles(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("list cards from %s: %w", base, err)
	}
	s.cache.Set(indexKey+base, files)
	return files, nil
}

// parseCard extracts the card fields from a markdown document. The first
// plain line becomes the description; "homepage:", "install:", and
// "ecosystem:" prefixed lines near the top override the matching fields.
func parseCard(name, content string) *models.LibraryCard {
	card := &models.LibraryCard{Name: name, Content: content}

	const headerWindow = 30
	for i, line := range strings.Split(content, "\n") {
		if i >= headerWindow {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "homepage:"):
			card.Homepage = strings.TrimSpace(line[len("homepage:"):])
		case strings.HasPrefix(lower, "install:"):
			card.Install = strings.TrimSpace(line[len("install:"):])
		case strings.HasPrefix(lower, "ecosystem:"):
			card.Ecosystem = strings.ToLower(strings.TrimSpace(line[len("ecosystem:"):]))
		default:
			if card.Description == "" {
				card.Description = line
			}
		}
	}
	return card
}

// Health reports the discovery tier status for the health endpoint.
func (s *Service) Health() map[string]any {
	status := "healthy"
	if s.cfg.RepoURL == "" {
		status = "not_configured"
	}
	return map[string]any{
		"status":   status,
		"cached":   s.cache.Len(),
		"repo_url": s.cfg.RepoURL,
	}
}

// Shutdown releases idle outbound connections.
func (s *Service) Shutdown(context.Context) error {
	s.github.httpClient.CloseIdleConnections()
	return nil
}

// OverrideHTTPClientForTest replaces the internal GitHub client's HTTP
// client. For testing only.
func (s *Service) OverrideHTTPClientForTest(httpClient *http.Client) {
	s.github.httpClient = httpClient
}
