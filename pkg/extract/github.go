package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/tributary-data/tributary/pkg/config"
	"github.com/tributary-data/tributary/pkg/record"
	"github.com/tributary-data/tributary/pkg/sample"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultPerPage = 100

	acceptHeader     = "application/vnd.github+json"
	apiVersionHeader = "2022-11-28"
)

// Github extracts issues from the GitHub REST API, one page per
// FetchPage call, in ascending updated-time order.
type Github struct {
	src     config.Source
	client  *retryablehttp.Client
	baseURL string
	token   string
	perPage int
	capture *sample.Capture
	log     *slog.Logger
}

// NewGithub builds a GitHub issues extractor for one source. The auth
// token is read from the environment variable named by the source's
// token_env option; it is attached to requests only and never persisted.
func NewGithub(src config.Source, httpCfg config.HTTPConfig, capture *sample.Capture, log *slog.Logger) *Github {
	baseURL := src.Options.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	perPage := src.Options.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}

	token := ""
	if src.Options.TokenEnv != "" {
		token = os.Getenv(src.Options.TokenEnv)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Github{
		src:     src,
		client:  newRetryClient(httpCfg),
		baseURL: baseURL,
		token:   token,
		perPage: perPage,
		capture: capture,
		log:     log,
	}
}

// Kind implements Extractor.Kind.
func (g *Github) Kind() string {
	return config.KindGithub
}

// FetchPage implements Extractor.FetchPage.
//
// A 422 response is GitHub's result-window exhaustion signal (at most
// 1000 results per query regardless of total matches). It is handled as
// a graceful truncation, not an error. Records at or before the cursor
// are skipped client-side because the API's since parameter is
// inclusive; entries carrying a pull_request key are filtered out
// because the issues endpoint mixes both record shapes.
func (g *Github) FetchPage(ctx context.Context, cursor, pageToken string) (record.Page, error) {
	page := 1

	if pageToken != "" {
		parsed, err := strconv.Atoi(pageToken)
		if err != nil {
			return record.Page{}, fmt.Errorf("bad page token %q: %w", pageToken, err)
		}

		page = parsed
	}

	resp, err := g.get(ctx, cursor, page)
	if err != nil {
		return record.Page{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// Result window exhausted upstream.
		g.log.Info("result window exhausted, stopping pagination",
			"source", g.src.Name, "page", page)

		return record.Page{Done: true, Truncated: true}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return record.Page{}, fmt.Errorf("%w: %s %s", ErrAuth, resp.Status, g.src.Name)
	case resp.StatusCode != http.StatusOK:
		return record.Page{}, fmt.Errorf("unexpected status %s fetching %s page %d", resp.Status, g.src.Name, page)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return record.Page{}, fmt.Errorf("read page %d: %w", page, err)
	}

	var items []map[string]any

	unmarshalErr := json.Unmarshal(body, &items)
	if unmarshalErr != nil {
		return record.Page{}, fmt.Errorf("%w: %s page %d: %v", ErrMalformedPage, g.src.Name, page, unmarshalErr)
	}

	if len(items) == 0 {
		return record.Page{Done: true}, nil
	}

	if g.capture != nil {
		g.capture.Page(g.src.Name, page, body)
	}

	records := make([]record.Raw, 0, len(items))

	for _, item := range items {
		// The issues endpoint returns pull requests in the same
		// collection; they have a different shape and must not reach
		// validation.
		if _, isPR := item["pull_request"]; isPR {
			continue
		}

		raw := g.flatten(item)

		if cursor != "" && g.src.CheckpointKey != "" {
			key, ok := raw[g.src.CheckpointKey].(string)
			if ok && key <= cursor {
				continue
			}
		}

		records = append(records, raw)
	}

	return record.Page{
		Records:   records,
		NextToken: strconv.Itoa(page + 1),
	}, nil
}

// flatten projects the upstream issue payload onto the raw keys the
// GitHub issue contract expects, including the dotted user.login alias.
func (g *Github) flatten(item map[string]any) record.Raw {
	var userLogin any
	if user, ok := item["user"].(map[string]any); ok {
		userLogin = user["login"]
	}

	return record.Raw{
		"id":         item["id"],
		"number":     item["number"],
		"title":      item["title"],
		"state":      item["state"],
		"user.login": userLogin,
		"comments":   item["comments"],
		"created_at": item["created_at"],
		"updated_at": item["updated_at"],
		"closed_at":  item["closed_at"],
		"repo_owner": g.src.Options.Owner,
		"repo_name":  g.src.Options.Repo,
	}
}

func (g *Github) get(ctx context.Context, cursor string, page int) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues",
		g.baseURL, url.PathEscape(g.src.Options.Owner), url.PathEscape(g.src.Options.Repo))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	query := req.URL.Query()
	query.Set("state", "all")
	query.Set("sort", "updated")
	query.Set("direction", "asc")
	query.Set("per_page", strconv.Itoa(g.perPage))
	query.Set("page", strconv.Itoa(page))

	if cursor != "" {
		query.Set("since", cursor)
	}

	req.URL.RawQuery = query.Encode()

	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersionHeader)

	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s page %d: %w", g.src.Name, page, err)
	}

	return resp, nil
}

// newRetryClient builds the transport-retry HTTP client. Auth failures
// are not retried; rate-limit responses are, waiting for the reset
// window the API announces.
func newRetryClient(httpCfg config.HTTPConfig) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = httpCfg.RetryMax
	client.RetryWaitMin = httpCfg.BackoffInitial
	client.RetryWaitMax = httpCfg.BackoffMax
	client.HTTPClient.Timeout = httpCfg.RequestTimeout
	client.CheckRetry = checkRetry
	client.Backoff = rateLimitBackoff

	return client
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		// Transport-level failure.
		return true, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests || isRateLimited(resp) {
		return true, nil
	}

	return resp.StatusCode >= http.StatusInternalServerError, nil
}

// rateLimitBackoff waits until the announced rate-limit reset when one
// is present, and falls back to the default exponential policy.
func rateLimitBackoff(minWait, maxWait time.Duration, attempt int, resp *http.Response) time.Duration {
	if resp != nil && isRateLimited(resp) {
		if resetAt, ok := rateLimitReset(resp); ok {
			wait := time.Until(resetAt)
			if wait < minWait {
				wait = minWait
			}

			if wait > maxWait {
				wait = maxWait
			}

			return wait
		}
	}

	return retryablehttp.DefaultBackoff(minWait, maxWait, attempt, resp)
}

func isRateLimited(resp *http.Response) bool {
	return resp.StatusCode == http.StatusForbidden &&
		resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func rateLimitReset(resp *http.Response) (time.Time, bool) {
	raw := resp.Header.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Time{}, false
	}

	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	return time.Unix(epoch, 0), true
}
