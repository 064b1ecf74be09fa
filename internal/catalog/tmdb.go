// Package catalog is the client for the TMDB movie catalog.  Screenings
// only store a movie id; titles and posters are looked up here on a
// best-effort basis and never block the reservation path.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnavailable is returned whenever the catalog cannot answer, whether
// the movie is unknown, TMDB is down, or credentials are missing.
var ErrUnavailable = errors.New("movie catalog unavailable")

// Movie is the subset of TMDB's movie object the API exposes.
type Movie struct {
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	PosterPath  string `json:"poster_path"`
	ReleaseDate string `json:"release_date,omitempty"`
}

// Config configures the TMDB client.  ReadToken (v4 bearer) is preferred
// over APIKey (v3 query parameter) when both are set.
type Config struct {
	BaseURL   string
	APIKey    string
	ReadToken string
	Language  string
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// TMDB talks to api.themoviedb.org.
type TMDB struct {
	cfg   Config
	http  *http.Client
	cache Cache
	log   logrus.FieldLogger
}

// NewTMDB returns a client.  cache may be nil.
func NewTMDB(cfg Config, cache Cache, log logrus.FieldLogger) *TMDB {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.themoviedb.org/3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &TMDB{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, cache: cache, log: log}
}

// NowPlaying lists the movies currently in theatres.  page is clamped to
// TMDB's accepted range.
func (c *TMDB) NowPlaying(ctx context.Context, page int) ([]Movie, error) {
	if page < 1 {
		page = 1
	}
	if page > 500 {
		page = 500
	}
	var body struct {
		Results []Movie `json:"results"`
	}
	q := url.Values{"page": {strconv.Itoa(page)}}
	if err := c.get(ctx, "/movie/now_playing", q, &body); err != nil {
		return nil, err
	}
	if body.Results == nil {
		body.Results = []Movie{}
	}
	return body.Results, nil
}

// Get returns a single movie.  Successful lookups are cached.
func (c *TMDB) Get(ctx context.Context, id uint64) (Movie, error) {
	key := "movie:" + strconv.FormatUint(id, 10)
	if c.cache != nil {
		if raw, ok := c.cache.Get(ctx, key); ok {
			var m Movie
			if err := json.Unmarshal(raw, &m); err == nil {
				return m, nil
			}
		}
	}
	var m Movie
	if err := c.get(ctx, "/movie/"+strconv.FormatUint(id, 10), url.Values{}, &m); err != nil {
		return Movie{}, err
	}
	if c.cache != nil {
		if raw, err := json.Marshal(m); err == nil {
			c.cache.Set(ctx, key, raw, c.cfg.CacheTTL)
		}
	}
	return m, nil
}

func (c *TMDB) get(ctx context.Context, path string, q url.Values, out any) error {
	if c.cfg.ReadToken == "" && c.cfg.APIKey == "" {
		return fmt.Errorf("%w: no credentials configured", ErrUnavailable)
	}
	if c.cfg.ReadToken == "" {
		q.Set("api_key", c.cfg.APIKey)
	}
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.ReadToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ReadToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode}).Debug("tmdb request failed")
		return fmt.Errorf("%w: tmdb status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}
