// Package y360 implements the target directory service against the
// Yandex 360 Directory API: paginated listings, department mutations and
// user assignment, with a staleness-bounded cache of the user listing.
package y360

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/alavret/sync-deps-from-hub-v2/internal/transport"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api360.yandex.net"

// DefaultPerPage is the page size for listing calls.
const DefaultPerPage = 100

// DefaultUserCacheTTL bounds how stale a served user listing may be.
const DefaultUserCacheTTL = 2 * time.Minute

const userCacheKey = "users"

// cachedUsers is the cache entry for the full user listing.
type cachedUsers struct {
	users     []directory.User
	fetchedAt time.Time
}

// Client talks to the Yandex 360 Directory API for one organization.
type Client struct {
	http    *transport.Client
	orgID   string
	perPage int

	transportOpts []transport.Option

	cache    *gocache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

var _ directory.Service = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the underlying HTTP client.
func WithTransport(t *transport.Client) Option {
	return func(c *Client) { c.http = t }
}

// WithRetryPolicy sets the per-call retry budget and linear delay step of
// the default transport. It has no effect when WithTransport injects one.
func WithRetryPolicy(maxRetries int, step time.Duration) Option {
	return func(c *Client) {
		c.transportOpts = append(c.transportOpts, transport.WithRetries(maxRetries, step))
	}
}

// WithPerPage sets the listing page size.
func WithPerPage(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// WithUserCacheTTL bounds the staleness of the cached user listing.
func WithUserCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cacheTTL = ttl }
}

// WithClock overrides the time source for cache staleness checks, for
// tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for the given organization, authenticating with
// the OAuth token.
func New(baseURL, token, orgID string, opts ...Option) (*Client, error) {
	if orgID == "" {
		return nil, errors.NewConfigError("y360", "organization id is required", nil)
	}
	if token == "" {
		return nil, errors.NewConfigError("y360", "OAuth token is required", nil)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		orgID:    orgID,
		perPage:  DefaultPerPage,
		cache:    gocache.New(gocache.NoExpiration, 10*time.Minute),
		cacheTTL: DefaultUserCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		topts := append([]transport.Option{transport.WithServiceName("y360")}, c.transportOpts...)
		c.http = transport.New(baseURL, token, &transport.OAuthAuth{}, topts...)
	}
	return c, nil
}

// Ping verifies connectivity and token validity with a minimal listing
// call.
func (c *Client) Ping(ctx context.Context) error {
	var page departmentsPage
	return c.http.Get(ctx, c.path("/departments?page=1&perPage=1"), &page)
}

// path builds an org-scoped API path.
func (c *Client) path(suffix string) string {
	return "/directory/v1/org/" + c.orgID + suffix
}

// ListDepartments fetches every department, walking all pages.
func (c *Client) ListDepartments(ctx context.Context) ([]directory.Department, error) {
	var out []directory.Department
	for page := 1; ; page++ {
		var p departmentsPage
		url := fmt.Sprintf("%s?page=%d&perPage=%d", c.path("/departments"), page, c.perPage)
		if err := c.http.Get(ctx, url, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Departments...)
		if page >= p.Pages || len(p.Departments) == 0 {
			break
		}
	}
	logging.Debug().Int("departments", len(out)).Msg("Fetched remote departments")
	return out, nil
}

// CreateDepartment creates one department and returns the stored record.
func (c *Client) CreateDepartment(ctx context.Context, draft directory.DepartmentDraft) (directory.Department, error) {
	var dep directory.Department
	if err := c.http.Post(ctx, c.path("/departments"), draft, &dep); err != nil {
		return directory.Department{}, err
	}
	return dep, nil
}

// PatchDepartment applies a partial update to one department.
func (c *Client) PatchDepartment(ctx context.Context, id int64, patch directory.DepartmentPatch) (directory.Department, error) {
	var dep directory.Department
	url := fmt.Sprintf("%s/%d", c.path("/departments"), id)
	if err := c.http.Patch(ctx, url, patch, &dep); err != nil {
		return directory.Department{}, err
	}
	return dep, nil
}

// DeleteDepartment removes one department.
func (c *Client) DeleteDepartment(ctx context.Context, id int64) error {
	return c.http.Delete(ctx, fmt.Sprintf("%s/%d", c.path("/departments"), id))
}

// ListUsers returns the full user listing. A cached listing is served
// while inside the staleness bound; forceRefresh bypasses the cache and
// is always used right before structural writes.
func (c *Client) ListUsers(ctx context.Context, forceRefresh bool) ([]directory.User, error) {
	if !forceRefresh {
		if entry, ok := c.cache.Get(userCacheKey); ok {
			cached := entry.(cachedUsers)
			if c.now().Sub(cached.fetchedAt) < c.cacheTTL {
				logging.Debug().Int("users", len(cached.users)).Msg("Serving cached user listing")
				return cached.users, nil
			}
		}
	}

	users, err := c.fetchUsers(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(userCacheKey, cachedUsers{users: users, fetchedAt: c.now()}, gocache.NoExpiration)
	return users, nil
}

// fetchUsers walks all pages of the user listing.
func (c *Client) fetchUsers(ctx context.Context) ([]directory.User, error) {
	var out []directory.User
	robots := 0
	for page := 1; ; page++ {
		var p usersPage
		url := fmt.Sprintf("%s?page=%d&perPage=%d", c.path("/users"), page, c.perPage)
		if err := c.http.Get(ctx, url, &p); err != nil {
			return nil, err
		}
		for _, u := range p.Users {
			if u.IsRobot {
				robots++
			}
			out = append(out, u.toUser())
		}
		if page >= p.Pages || len(p.Users) == 0 {
			break
		}
	}
	logging.Debug().
		Int("users", len(out)).
		Int("robots", robots).
		Msg("Fetched remote users")
	return out, nil
}

// AssignUserDepartment moves one user to the given department and drops
// the cached listing, which is stale from this point.
func (c *Client) AssignUserDepartment(ctx context.Context, userID string, departmentID int64) error {
	body := map[string]int64{"departmentId": departmentID}
	url := fmt.Sprintf("%s/%s", c.path("/users"), userID)
	if err := c.http.Patch(ctx, url, body, nil); err != nil {
		return err
	}
	c.cache.Delete(userCacheKey)
	return nil
}
