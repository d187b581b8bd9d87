package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/storage"
)

func TestService_Lookup_RepoShorthand(t *testing.T) {
	t.Run("builds card from repository metadata and release", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/repos/redis/go-redis":
				_, _ = w.Write([]byte(`{
					"full_name": "redis/go-redis",
					"description": "Redis Go client",
					"stargazers_count": 19000,
					"language": "Go",
					"homepage": "https://redis.uptrace.dev",
					"html_url": "https://github.com/redis/go-redis"
				}`))
			case "/repos/redis/go-redis/releases/latest":
				_, _ = w.Write([]byte(`{"tag_name": "v9.5.1"}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		svc := newTestDiscovery(t, server, nil, nil)

		card, err := svc.Lookup(context.Background(), "redis/go-redis")
		require.NoError(t, err)
		assert.Equal(t, "redis/go-redis", card.Name)
		assert.Equal(t, "Redis Go client", card.Description)
		assert.Equal(t, "go", card.Ecosystem)
		assert.Equal(t, "https://redis.uptrace.dev", card.Homepage)
		assert.Equal(t, "go get github.com/redis/go-redis", card.Install)
		assert.Contains(t, card.Content, "redis/go-redis (19000 stars)")
		assert.Contains(t, card.Content, "Latest release: v9.5.1")
		assert.False(t, card.FetchedAt.IsZero())
	})

	t.Run("repo without release still yields a card", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/releases/latest") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"full_name": "org/newlib", "language": "Rust", "html_url": "https://github.com/org/newlib"}`))
		}))
		defer server.Close()

		svc := newTestDiscovery(t, server, nil, nil)

		card, err := svc.Lookup(context.Background(), "org/newlib")
		require.NoError(t, err)
		assert.Equal(t, "rust", card.Ecosystem)
		assert.Equal(t, "https://github.com/org/newlib", card.Homepage)
		assert.Empty(t, card.Install)
		assert.NotContains(t, card.Content, "Latest release")
	})

	t.Run("full github URL resolves like shorthand", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/releases/latest") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			assert.Equal(t, "/repos/gin-gonic/gin", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"full_name": "gin-gonic/gin", "language": "Go", "html_url": "https://github.com/gin-gonic/gin"}`))
		}))
		defer server.Close()

		svc := newTestDiscovery(t, server, nil, nil)

		card, err := svc.Lookup(context.Background(), "https://github.com/gin-gonic/gin")
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/gin-gonic/gin", card.Homepage)
		assert.Equal(t, "go get github.com/gin-gonic/gin", card.Install)
	})

	t.Run("domain outside allowlist rejected before any fetch", func(t *testing.T) {
		callCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			callCount++
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		cfg := &config.DiscoveryConfig{
			CacheTTL:       time.Minute,
			AllowedDomains: []string{"example.com"},
		}
		svc := newTestDiscovery(t, server, cfg, nil)

		_, err := svc.Lookup(context.Background(), "redis/go-redis")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in allowed list")
		assert.Equal(t, 0, callCount)
	})
}

func TestService_Lookup_BareName(t *testing.T) {
	const cardDoc = `# Redis

In-memory data store used as cache and message broker.
homepage: https://redis.io
install: go get github.com/redis/go-redis/v9
ecosystem: Go

## Usage

client := redis.NewClient(...)
`

	t.Run("fetches card from raw index base", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_, _ = w.Write([]byte(cardDoc))
		}))
		defer server.Close()

		cfg := &config.DiscoveryConfig{
			RepoURL:        "https://raw.githubusercontent.com/goodboyai/kennel-library/main",
			CacheTTL:       time.Minute,
			AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
		}
		svc := newTestDiscovery(t, server, cfg, nil)

		card, err := svc.Lookup(context.Background(), "redis")
		require.NoError(t, err)
		assert.Equal(t, "/goodboyai/kennel-library/main/redis.md", gotPath)
		assert.Equal(t, "redis", card.Name)
		assert.Equal(t, "In-memory data store used as cache and message broker.", card.Description)
		assert.Equal(t, "https://redis.io", card.Homepage)
		assert.Equal(t, "go get github.com/redis/go-redis/v9", card.Install)
		assert.Equal(t, "go", card.Ecosystem)
		assert.Equal(t, cardDoc, card.Content)
	})

	t.Run("resolves through tree index listing", func(t *testing.T) {
		apiCalls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/repos/") {
				apiCalls++
				items := []githubContentItem{
					{Name: "redis.md", Path: "cards/redis.md", Type: "file", HTMLURL: "https://github.com/goodboyai/kennel-library/blob/main/cards/redis.md"},
					{Name: "gin.md", Path: "cards/gin.md", Type: "file", HTMLURL: "https://github.com/goodboyai/kennel-library/blob/main/cards/gin.md"},
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(items)
				return
			}
			// Raw content download of the matched card.
			_, _ = w.Write([]byte(cardDoc))
		}))
		defer server.Close()

		cfg := &config.DiscoveryConfig{
			RepoURL:        "https://github.com/goodboyai/kennel-library/tree/main/cards",
			CacheTTL:       time.Minute,
			AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
		}
		svc := newTestDiscovery(t, server, cfg, nil)

		card, err := svc.Lookup(context.Background(), "redis")
		require.NoError(t, err)
		assert.Equal(t, "redis", card.Name)
		assert.Equal(t, "https://redis.io", card.Homepage)
		assert.Equal(t, 1, apiCalls)

		// The index listing is cached: a second bare name reuses it.
		_, err = svc.Lookup(context.Background(), "gin")
		require.NoError(t, err)
		assert.Equal(t, 1, apiCalls)
	})

	t.Run("name missing from index returns error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]githubContentItem{
				{Name: "gin.md", Path: "cards/gin.md", Type: "file", HTMLURL: "https://github.com/org/lib/blob/main/cards/gin.md"},
			})
		}))
		defer server.Close()

		cfg := &config.DiscoveryConfig{
			RepoURL:  "https://github.com/org/lib/tree/main/cards",
			CacheTTL: time.Minute,
		}
		svc := newTestDiscovery(t, server, cfg, nil)

		_, err := svc.Lookup(context.Background(), "redis")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no card named "redis"`)
	})

	t.Run("no index repository configured", func(t *testing.T) {
		cfg := &config.DiscoveryConfig{CacheTTL: time.Minute}
		svc := newTestDiscovery(t, nil, cfg, nil)

		_, err := svc.Lookup(context.Background(), "redis")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no card repository configured")
	})

	t.Run("empty name rejected", func(t *testing.T) {
		svc := newTestDiscovery(t, nil, nil, nil)
		_, err := svc.Lookup(context.Background(), "   ")
		require.Error(t, err)
	})
}

func TestService_Lookup_Caching(t *testing.T) {
	t.Run("memory cache serves repeat lookups", func(t *testing.T) {
		callCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callCount++
			if strings.HasSuffix(r.URL.Path, "/releases/latest") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"full_name": "org/lib", "language": "Go", "html_url": "https://github.com/org/lib"}`))
		}))
		defer server.Close()

		svc := newTestDiscovery(t, server, nil, nil)

		first, err := svc.Lookup(context.Background(), "org/lib")
		require.NoError(t, err)
		fetched := callCount

		second, err := svc.Lookup(context.Background(), "org/lib")
		require.NoError(t, err)
		assert.Equal(t, fetched, callCount)
		assert.Same(t, first, second)
	})

	t.Run("fresh stored card served without refetch", func(t *testing.T) {
		callCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			callCount++
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		store := storage.NewMemoryStore()
		stored := &models.LibraryCard{
			Name:      "redis",
			Content:   "stored card",
			FetchedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveLibraryCard(context.Background(), stored))

		cfg := &config.DiscoveryConfig{
			RepoURL:  "https://raw.githubusercontent.com/org/lib/main",
			CacheTTL: time.Minute,
		}
		svc := newTestDiscovery(t, server, cfg, store)

		card, err := svc.Lookup(context.Background(), "redis")
		require.NoError(t, err)
		assert.Equal(t, "stored card", card.Content)
		assert.Equal(t, 0, callCount)
	})

	t.Run("stale stored card is refetched and refreshed", func(t *testing.T) {
		callCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			callCount++
			_, _ = w.Write([]byte("refreshed card"))
		}))
		defer server.Close()

		store := storage.NewMemoryStore()
		stale := &models.LibraryCard{
			Name:      "redis",
			Content:   "stale card",
			FetchedAt: time.Now().UTC().Add(-25 * time.Hour),
		}
		require.NoError(t, store.SaveLibraryCard(context.Background(), stale))

		cfg := &config.DiscoveryConfig{
			RepoURL:  "https://raw.githubusercontent.com/org/lib/main",
			CacheTTL: time.Minute,
		}
		svc := newTestDiscovery(t, server, cfg, store)

		card, err := svc.Lookup(context.Background(), "redis")
		require.NoError(t, err)
		assert.Equal(t, "refreshed card", card.Content)
		assert.Equal(t, 1, callCount)

		refreshed, err := store.GetLibraryCard(context.Background(), "redis")
		require.NoError(t, err)
		require.NotNil(t, refreshed)
		assert.Equal(t, "refreshed card", refreshed.Content)
		assert.WithinDuration(t, time.Now(), refreshed.FetchedAt, time.Minute)
	})
}

func TestService_Health(t *testing.T) {
	t.Run("not configured without index repo", func(t *testing.T) {
		svc := newTestDiscovery(t, nil, &config.DiscoveryConfig{CacheTTL: time.Minute}, nil)
		health := svc.Health()
		assert.Equal(t, "not_configured", health["status"])
		assert.Equal(t, 0, health["cached"])
	})

	t.Run("healthy reports cache size", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("card"))
		}))
		defer server.Close()

		cfg := &config.DiscoveryConfig{
			RepoURL:  "https://raw.githubusercontent.com/org/lib/main",
			CacheTTL: time.Minute,
		}
		svc := newTestDiscovery(t, server, cfg, nil)

		_, err := svc.Lookup(context.Background(), "redis")
		require.NoError(t, err)

		health := svc.Health()
		assert.Equal(t, "healthy", health["status"])
		assert.Equal(t, 1, health["cached"])
		assert.Equal(t, cfg.RepoURL, health["repo_url"])
	})
}

func TestParseCard(t *testing.T) {
	t.Run("extracts header fields and description", func(t *testing.T) {
		card := parseCard("redis", "# Redis\n\nFast key-value store.\nHomepage: https://redis.io\nInstall: go get github.com/redis/go-redis/v9\nEcosystem: Go\n\nbody text")
		assert.Equal(t, "redis", card.Name)
		assert.Equal(t, "Fast key-value store.", card.Description)
		assert.Equal(t, "https://redis.io", card.Homepage)
		assert.Equal(t, "go get github.com/redis/go-redis/v9", card.Install)
		assert.Equal(t, "go", card.Ecosystem)
		assert.Contains(t, card.Content, "body text")
	})

	t.Run("description is first plain line only", func(t *testing.T) {
		card := parseCard("lib", "first line\nsecond line")
		assert.Equal(t, "first line", card.Description)
	})

	t.Run("bare content kept even without header fields", func(t *testing.T) {
		card := parseCard("lib", "# Heading only\n")
		assert.Empty(t, card.Description)
		assert.Equal(t, "# Heading only\n", card.Content)
	})
}

// newTestDiscovery builds a Service routed through the test server. A nil cfg
// uses a permissive config with no index repository restrictions.
func newTestDiscovery(t *testing.T, server *httptest.Server, cfg *config.DiscoveryConfig, store storage.LibraryStore) *Service {
	t.Helper()
	if cfg == nil {
		cfg = &config.DiscoveryConfig{CacheTTL: time.Minute}
	}
	svc := NewService(cfg, store, nil)
	if server != nil {
		svc.OverrideHTTPClientForTest(&http.Client{
			Transport: &testTransport{
				server:   server,
				delegate: http.DefaultTransport,
			},
		})
	}
	return svc
}
