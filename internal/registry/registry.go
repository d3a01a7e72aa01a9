// Package registry is the out-of-scope "Registry API client" collaborator
// named in spec.md §6.1 — deliberately thin plumbing. The core only
// depends on the two-operation Client interface; this package supplies one
// real implementation against the crates.io index so the CLI has
// something to wire together, but neither is exercised by the core's
// tests (those use a fake Client).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// DependentRef is the minimum the resolver needs about a reverse
// dependency to build a VersionSpec for it.
type DependentRef struct {
	Name          string
	LatestVersion string
	DownloadCount int64
}

// Client is the consumed interface (spec.md §6.1): "top_dependents(name,
// n) -> [DependentRef]", "latest_version(name) -> Version".
type Client interface {
	TopDependents(ctx context.Context, crateName string, n int) ([]DependentRef, error)
	LatestVersion(ctx context.Context, crateName string) (string, error)
}

// HTTPClient talks to the crates.io API. BaseURL defaults to
// "https://crates.io/api/v1" when empty.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://crates.io/api/v1"
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

type crateResponse struct {
	Crate struct {
		Name       string `json:"name"`
		MaxVersion string `json:"max_stable_version"`
		Downloads  int64  `json:"downloads"`
	} `json:"crate"`
}

// LatestVersion queries crates.io's crate metadata endpoint for the
// current max stable version.
func (c *HTTPClient) LatestVersion(ctx context.Context, crateName string) (string, error) {
	version, _, err := c.latestVersionAndDownloads(ctx, crateName)
	return version, err
}

func (c *HTTPClient) latestVersionAndDownloads(ctx context.Context, crateName string) (string, int64, error) {
	url := fmt.Sprintf("%s/crates/%s", c.baseURL(), crateName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("registry: failed to build request for %s: %w", crateName, err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("registry: request for %s failed: %w", crateName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("registry: %s returned status %d", crateName, resp.StatusCode)
	}
	var body crateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("registry: failed to decode response for %s: %w", crateName, err)
	}
	if body.Crate.MaxVersion == "" {
		return "", 0, fmt.Errorf("registry: %s has no max_stable_version", crateName)
	}
	return body.Crate.MaxVersion, body.Crate.Downloads, nil
}

type reverseDepsResponse struct {
	Dependencies []struct {
		CrateID string `json:"crate_id"`
	} `json:"dependencies"`
}

// TopDependents queries crates.io's reverse_dependencies endpoint and
// ranks results by download count, descending, ties broken by name
// (spec.md §4.1's "Ties broken by name lexicographically").
func (c *HTTPClient) TopDependents(ctx context.Context, crateName string, n int) ([]DependentRef, error) {
	url := fmt.Sprintf("%s/crates/%s/reverse_dependencies", c.baseURL(), crateName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to build request for %s: %w", crateName, err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: reverse-dependency request for %s failed: %w", crateName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: reverse-dependency request for %s returned status %d", crateName, resp.StatusCode)
	}
	var body reverseDepsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("registry: failed to decode reverse-dependency response for %s: %w", crateName, err)
	}

	seen := map[string]struct{}{}
	refs := make([]DependentRef, 0, len(body.Dependencies))
	for _, dep := range body.Dependencies {
		if dep.CrateID == "" {
			continue
		}
		if _, ok := seen[dep.CrateID]; ok {
			continue
		}
		seen[dep.CrateID] = struct{}{}
		version, downloads, err := c.latestVersionAndDownloads(ctx, dep.CrateID)
		if err != nil {
			continue
		}
		refs = append(refs, DependentRef{Name: dep.CrateID, LatestVersion: version, DownloadCount: downloads})
	}

	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].DownloadCount != refs[j].DownloadCount {
			return refs[i].DownloadCount > refs[j].DownloadCount
		}
		return refs[i].Name < refs[j].Name
	})
	if n > 0 && len(refs) > n {
		refs = refs[:n]
	}
	return refs, nil
}
