package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every rendered cache key.
const KeyPrefix = "vigia"

// CacheKey represents a unique identifier for a cached upstream response.
type CacheKey struct {
	// Endpoint is the logical endpoint name (e.g., "datastore")
	Endpoint string

	// PathParams are the path parameters (e.g., {"resource_id": "abc"})
	PathParams map[string]string

	// QueryParams are the effective query parameters, after defaults
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: vigia:endpoint:param1=val1:query1=val1
//
// Values are query-escaped so that ':' inside a value cannot collide with
// the separator. Query params with an empty value are left out, which makes
// "filters=" and a missing filters parameter the same key.
//
// Example:
//
//	vigia:datastore:resource_id=abc:limit=100:offset=0
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.PathParams) > 0 {
		pathKeys := make([]string, 0, len(k.PathParams))
		for key := range k.PathParams {
			pathKeys = append(pathKeys, key)
		}
		sort.Strings(pathKeys)

		for _, key := range pathKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, url.QueryEscape(k.PathParams[key])))
		}
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			value := k.QueryParams.Get(key)
			if value == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", key, url.QueryEscape(value)))
		}
	}

	return strings.Join(parts, ":")
}
