// Package proxy maps the local open-data API onto the upstream portals:
// Service resolves each logical endpoint through the response cache and the
// fetcher, and Server exposes it over HTTP.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigia-recife/vigia-proxy/pkg/cache"
	"github.com/vigia-recife/vigia-proxy/pkg/config"
)

// Curated CKAN datastore resources.
const (
	MedicationsResourceID     = "49657ff7-9860-4b3b-9840-c4239c34f3d2"
	AccidentsResourceID       = "b8094cbb-c904-4325-b375-8276bc1a6d0b"
	CompanyRegistryResourceID = "61ca6a8b-1648-44a5-87db-431777b33144"
	CitizenRequestsResourceID = "a87570a9-94af-4610-b729-a59ff21a574d"
)

// Row limits requested for the curated resources.
const (
	medicationsLimit     = 1000
	accidentsLimit       = 1000
	companyRegistryLimit = 5000
	citizenRequestsLimit = 2000
)

// Fetcher retrieves a JSON document from an upstream URL.
// *client.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (json.RawMessage, error)
}

// Result is the payload returned for an endpoint.
type Result struct {
	// Data is the upstream JSON body, unmodified
	Data json.RawMessage

	// Cached reports whether Data was served from the response cache
	Cached bool
}

// DatastoreQuery holds the effective datastore_search parameters.
type DatastoreQuery struct {
	Limit   int
	Offset  int
	Filters string
}

// Service resolves every logical endpoint: cache lookup, upstream fetch on
// a miss, then cache store with the endpoint TTL.
type Service struct {
	fetcher  Fetcher
	cache    *cache.Manager
	upstream config.UpstreamConfig
	ttl      config.TTLPolicy
	defaults config.QueryDefaults
	logger   zerolog.Logger
}

// NewService creates a Service from the upstream, cache and defaults
// sections of cfg.
func NewService(cfg *config.Config, fetcher Fetcher, cacheManager *cache.Manager) *Service {
	if fetcher == nil || cacheManager == nil {
		panic("proxy service requires a fetcher and a cache manager")
	}

	return &Service{
		fetcher:  fetcher,
		cache:    cacheManager,
		upstream: cfg.Upstream,
		ttl:      cfg.Cache.TTL,
		defaults: cfg.Defaults,
		logger:   log.With().Str("component", "proxy").Logger(),
	}
}

// Defaults returns the values used for omitted query parameters.
func (s *Service) Defaults() config.QueryDefaults {
	return s.defaults
}

// CacheStats returns the response cache statistics.
func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.cache.Stats(ctx)
}

// Datasets lists every dataset of the catalog.
func (s *Service) Datasets(ctx context.Context) (Result, error) {
	key := cache.CacheKey{Endpoint: "datasets"}
	return s.resolve(ctx, key, s.ckan("package_list", nil), s.ttl.DatasetList)
}

// Dataset returns the metadata of one dataset.
func (s *Service) Dataset(ctx context.Context, id string) (Result, error) {
	if strings.TrimSpace(id) == "" {
		return Result{}, missingParam("id")
	}

	key := cache.CacheKey{
		Endpoint:   "dataset",
		PathParams: map[string]string{"id": id},
	}
	upstream := s.ckan("package_show", []queryParam{{"id", id}})

	return s.resolve(ctx, key, upstream, s.ttl.DatasetDetail)
}

// Datastore searches the rows of a datastore resource.
func (s *Service) Datastore(ctx context.Context, resourceID string, q DatastoreQuery) (Result, error) {
	if strings.TrimSpace(resourceID) == "" {
		return Result{}, missingParam("resource_id")
	}
	if q.Limit < 0 {
		return Result{}, invalidInt("limit")
	}
	if q.Offset < 0 {
		return Result{}, invalidInt("offset")
	}

	key := cache.CacheKey{
		Endpoint:   "datastore",
		PathParams: map[string]string{"resource_id": resourceID},
		QueryParams: url.Values{
			"limit":   []string{strconv.Itoa(q.Limit)},
			"offset":  []string{strconv.Itoa(q.Offset)},
			"filters": []string{q.Filters},
		},
	}

	params := []queryParam{
		{"resource_id", resourceID},
		{"limit", strconv.Itoa(q.Limit)},
		{"offset", strconv.Itoa(q.Offset)},
	}
	if q.Filters != "" {
		params = append(params, queryParam{"filters", q.Filters})
	}

	return s.resolve(ctx, key, s.ckan("datastore_search", params), s.ttl.Datastore)
}

// Medications returns the municipal medication stock.
func (s *Service) Medications(ctx context.Context) (Result, error) {
	return s.curated(ctx, "medications", MedicationsResourceID, medicationsLimit, s.ttl.Medications)
}

// Accidents returns the traffic accident records.
func (s *Service) Accidents(ctx context.Context) (Result, error) {
	return s.curated(ctx, "accidents", AccidentsResourceID, accidentsLimit, s.ttl.Accidents)
}

// CompanyRegistry returns the registered companies.
func (s *Service) CompanyRegistry(ctx context.Context) (Result, error) {
	return s.curated(ctx, "company_registry", CompanyRegistryResourceID, companyRegistryLimit, s.ttl.CompanyRegistry)
}

// CitizenRequests returns the 156 citizen service requests.
func (s *Service) CitizenRequests(ctx context.Context) (Result, error) {
	return s.curated(ctx, "citizen_requests", CitizenRequestsResourceID, citizenRequestsLimit, s.ttl.CitizenRequests)
}

// Revenue returns the municipal revenue for a year.
func (s *Service) Revenue(ctx context.Context, year int) (Result, error) {
	return s.byYear(ctx, "revenue", s.upstream.RevenueBaseURL, year, s.ttl.Revenue)
}

// Expenses returns the municipal expenses for a year.
func (s *Service) Expenses(ctx context.Context, year int) (Result, error) {
	return s.byYear(ctx, "expenses", s.upstream.ExpenseBaseURL, year, s.ttl.Expenses)
}

// Search runs a free-text catalog search. An empty query is rejected
// before the cache is consulted.
func (s *Service) Search(ctx context.Context, q string, rows int) (Result, error) {
	if q == "" {
		return Result{}, &ClientInputError{Param: "q", Message: "Parâmetro de busca (q) é obrigatório"}
	}
	if rows < 0 {
		return Result{}, invalidInt("rows")
	}

	key := cache.CacheKey{
		Endpoint: "search",
		QueryParams: url.Values{
			"q":    []string{q},
			"rows": []string{strconv.Itoa(rows)},
		},
	}
	upstream := s.ckan("package_search", []queryParam{
		{"q", q},
		{"rows", strconv.Itoa(rows)},
	})

	return s.resolve(ctx, key, upstream, s.ttl.Search)
}

func (s *Service) curated(ctx context.Context, endpoint, resourceID string, limit int, ttl time.Duration) (Result, error) {
	key := cache.CacheKey{Endpoint: endpoint}
	upstream := s.ckan("datastore_search", []queryParam{
		{"resource_id", resourceID},
		{"limit", strconv.Itoa(limit)},
	})
	return s.resolve(ctx, key, upstream, ttl)
}

func (s *Service) byYear(ctx context.Context, endpoint, base string, year int, ttl time.Duration) (Result, error) {
	if year < 0 {
		return Result{}, invalidInt("ano")
	}

	ano := strconv.Itoa(year)
	key := cache.CacheKey{
		Endpoint:    endpoint,
		QueryParams: url.Values{"ano": []string{ano}},
	}
	return s.resolve(ctx, key, strings.TrimRight(base, "/")+"/"+ano, ttl)
}

// resolve serves key from the cache or fetches upstream and caches the
// result. Cache failures never fail the request.
func (s *Service) resolve(ctx context.Context, key cache.CacheKey, upstream string, ttl time.Duration) (Result, error) {
	entry, err := s.cache.Get(ctx, key)
	if err == nil {
		return Result{Data: entry.Data, Cached: true}, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed, fetching from upstream")
	}

	s.logger.Debug().Str("key", key.String()).Str("url", upstream).Msg("Fetching from upstream")

	data, err := s.fetcher.Fetch(ctx, upstream)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", key.Endpoint, err)
	}

	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache upstream response")
	}

	return Result{Data: data}, nil
}

type queryParam struct {
	name  string
	value string
}

// ckan builds {ckan}/action/{action}?{params} keeping the parameter order.
func (s *Service) ckan(action string, params []queryParam) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(s.upstream.CKANBaseURL, "/"))
	b.WriteString("/action/")
	b.WriteString(action)

	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p.name)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}

	return b.String()
}
