package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxErrorBody caps how much of an error response is quoted back.
const maxErrorBody = 512

// Remote mirrors another tvserver over HTTP.
type Remote struct {
	baseURL string
	client  *retryablehttp.Client
}

// RemoteOptions configures a Remote source.
type RemoteOptions struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
	Logger   *slog.Logger
}

// NewRemote creates a source reading from the tvserver at opts.BaseURL.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote source requires a base URL")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	if opts.Logger != nil {
		client.Logger = opts.Logger
	} else {
		client.Logger = nil
	}

	return &Remote{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
	}, nil
}

// Home fetches /home.
func (r *Remote) Home(ctx context.Context) (Home, error) {
	var home Home
	if err := r.getJSON(ctx, "/home", &home); err != nil {
		return nil, err
	}
	return home, nil
}

// Episodes fetches one page with the page query parameter.
func (r *Remote) Episodes(ctx context.Context, channel, show string, page int) (EpisodePage, error) {
	path := "/episodes/" + url.PathEscape(channel) + "/" + url.PathEscape(show) +
		"?page=" + strconv.Itoa(page)
	var out EpisodePage
	if err := r.getJSON(ctx, path, &out); err != nil {
		return EpisodePage{}, err
	}
	if out.Episodes == nil {
		out.Episodes = []string{}
	}
	return out, nil
}

// Episode fetches the parts of one episode.
func (r *Remote) Episode(ctx context.Context, channel, show, episode string) ([]EpisodePart, error) {
	path := "/episode/" + url.PathEscape(channel) + "/" + url.PathEscape(show) + "/" + url.PathEscape(episode)
	var parts []EpisodePart
	if err := r.getJSON(ctx, path, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

func (r *Remote) getJSON(ctx context.Context, path string, v any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("GET %s: %w", path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}
	return nil
}
