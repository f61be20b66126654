// File: internal/source/fetcher.go
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/homehub-io/catalog-sync/internal/config"
	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// internalPrefix marks upstream directories that are not integrations
const internalPrefix = "_"

// Fetcher defines the upstream crawl interface
type Fetcher interface {
	ListDomains(ctx context.Context) ([]string, error)
	FetchManifest(ctx context.Context, domain string) (*models.Manifest, error)
	FetchBrandDomains(ctx context.Context) (map[string]struct{}, error)
	BrandImageURL(domain string) string
	Stats() ClientStats
}

// SourceFetcher crawls the upstream source tree for integration domains,
// manifests and brand images.
type SourceFetcher struct {
	client *Client
	config *config.SourceConfig
	logger *logrus.Logger
}

// NewSourceFetcher creates a new source fetcher
func NewSourceFetcher(cfg *config.SourceConfig, metricsManager *metrics.Manager) *SourceFetcher {
	return &SourceFetcher{
		client: NewClient(cfg, metricsManager),
		config: cfg,
		logger: utils.GetLogger(),
	}
}

// contentEntry is one element of an upstream directory listing
type contentEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ListDomains enumerates candidate integration domains from the upstream
// directory listing. Internal entries (reserved prefix or the literal
// "tests" directory) are excluded.
func (f *SourceFetcher) ListDomains(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		f.config.APIBaseURL, f.config.CoreRepo, f.config.ComponentsPath, f.config.Branch)

	body, err := f.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	var entries []contentEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSource, "Failed to decode directory listing", err.Error())
	}

	domains := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type != "dir" {
			continue
		}
		if strings.HasPrefix(entry.Name, internalPrefix) || entry.Name == "tests" {
			continue
		}
		domains = append(domains, entry.Name)
	}
	sort.Strings(domains)

	f.logger.WithField("count", len(domains)).Info("Enumerated upstream domains")
	return domains, nil
}

// FetchManifest returns the parsed manifest for a domain, or nil without
// error when the upstream resource does not exist.
func (f *SourceFetcher) FetchManifest(ctx context.Context, domain string) (*models.Manifest, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/%s/manifest.json",
		f.config.RawBaseURL, f.config.CoreRepo, f.config.Branch, f.config.ComponentsPath, domain)

	body, err := f.client.Get(ctx, url)
	if err != nil {
		if utils.HasCode(err, utils.ErrCodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var manifest models.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSource,
			fmt.Sprintf("Failed to decode manifest for %s", domain), err.Error())
	}

	return &manifest, nil
}

// FetchBrandDomains unions the first-party and third-party brand image
// listings. A failure on either sub-listing degrades to an empty set for
// that half rather than failing the whole call.
func (f *SourceFetcher) FetchBrandDomains(ctx context.Context) (map[string]struct{}, error) {
	brands := make(map[string]struct{})

	for _, path := range []string{"core_integrations", "custom_integrations"} {
		url := fmt.Sprintf("%s/repos/%s/contents/%s", f.config.APIBaseURL, f.config.BrandsRepo, path)

		body, err := f.client.Get(ctx, url)
		if err != nil {
			f.logger.WithFields(logrus.Fields{
				"listing": path,
				"error":   err,
			}).Warn("Brand listing failed, continuing without it")
			continue
		}

		var entries []contentEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			f.logger.WithFields(logrus.Fields{
				"listing": path,
				"error":   err,
			}).Warn("Brand listing decode failed, continuing without it")
			continue
		}

		for _, entry := range entries {
			if entry.Type == "dir" {
				brands[entry.Name] = struct{}{}
			}
		}
	}

	f.logger.WithField("count", len(brands)).Debug("Fetched brand domains")
	return brands, nil
}

// BrandImageURL builds the public brand image URL for a domain
func (f *SourceFetcher) BrandImageURL(domain string) string {
	return fmt.Sprintf("%s/%s/icon.png", f.config.BrandsBaseURL, domain)
}

// Stats returns upstream client statistics
func (f *SourceFetcher) Stats() ClientStats {
	return f.client.Stats()
}
