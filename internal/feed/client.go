package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/siid-ide/update-agent/internal/httputil"
	"github.com/siid-ide/update-agent/internal/logging"
	"github.com/siid-ide/update-agent/pkg/api"
)

var log = logging.L("feed")

// maxFeedResponseBytes bounds feed reply size (10 MB). Keeps a
// misbehaving server from exhausting memory.
const maxFeedResponseBytes = 10 << 20

// feedRetryConfig keeps check cycles short: a failed background check
// simply waits for the next scheduled interval instead of backing off
// for long here.
func feedRetryConfig() httputil.RetryConfig {
	return httputil.RetryConfig{
		MaxRetries:    2,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.2,
	}
}

// Options configures a feed Client.
type Options struct {
	// BaseURL is the feed base, either the vendor update server or a
	// GitHub Releases API repo URL.
	BaseURL string
	// GitHub selects the GitHub Releases protocol instead of the
	// vendor protocol.
	GitHub bool
	// QueryVariant switches the vendor feed to its query-parameter URL
	// form. Hidden setting, off by default.
	QueryVariant bool
	// UserAgent is sent on every request.
	UserAgent string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client resolves the remote release feed into update descriptors.
type Client struct {
	base         *url.URL
	github       bool
	queryVariant bool
	userAgent    string
	httpClient   *http.Client
}

// NewClient validates the feed base URL and builds a Client. An
// unparsable or schemeless base returns an error, which callers
// surface as Disabled(invalid-configuration).
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("feed URL %q has no scheme or host", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "siid-updater"
	}

	return &Client{
		base:         base,
		github:       opts.GitHub,
		queryVariant: opts.QueryVariant,
		userAgent:    userAgent,
		httpClient:   httpClient,
	}, nil
}

// FeedURL builds the concrete check URL for a platform/quality/commit
// triple.
func (c *Client) FeedURL(platform, quality, commit string) string {
	if c.github {
		return c.base.JoinPath("latest").String()
	}

	if c.queryVariant {
		u := c.base.JoinPath("api", "update")
		q := u.Query()
		q.Set("platform", platform)
		q.Set("quality", quality)
		q.Set("commit", commit)
		u.RawQuery = q.Encode()
		return u.String()
	}

	return c.base.JoinPath("api", "update", platform, quality, commit).String()
}

// Latest fetches the feed and returns the normalized update
// descriptor. A nil descriptor with nil error means the feed had no
// update to offer; errors are transport or decode failures.
func (c *Client) Latest(ctx context.Context, platform, quality, commit string, meta ProductMeta) (*api.UpdateDescriptor, error) {
	feedURL := c.FeedURL(platform, quality, commit)

	headers := http.Header{}
	headers.Set("User-Agent", c.userAgent)
	if c.github {
		headers.Set("Accept", "application/vnd.github+json")
		headers.Set("X-GitHub-Api-Version", "2022-11-28")
	}

	resp, err := httputil.Do(ctx, c.httpClient, http.MethodGet, feedURL, nil, headers, feedRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Fall through to decoding.
	case http.StatusNoContent:
		return nil, nil
	case http.StatusNotFound:
		if c.github {
			// Repository without any published release.
			return nil, nil
		}
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxFeedResponseBytes)

	if c.github {
		var rel Release
		if err := json.NewDecoder(body).Decode(&rel); err != nil {
			return nil, fmt.Errorf("decoding release: %w", err)
		}

		update := ParseGitHubRelease(&rel, platform, meta)
		if update == nil {
			log.Debug("release not applicable", "tag", rel.TagName, "prerelease", rel.Prerelease)
		}
		return update, nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}

	return ParseVendorFeed(data)
}
