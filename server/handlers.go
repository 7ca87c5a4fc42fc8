package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pbs-tv/tvserver/catalog"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /home", s.handleHome)
	s.handle(mux, "GET /episodes/{channel}/{tvshow}", s.handleEpisodes)
	s.handle(mux, "GET /episode/{channel}/{tvshow}/{episode}", s.handleEpisode)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	return mux
}

// handle registers h behind the worker limit and records its latency.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if err := s.workers.Acquire(r.Context(), 1); err != nil {
			http.Error(w, "request cancelled", http.StatusServiceUnavailable)
			return
		}
		defer s.workers.Release(1)

		start := time.Now()
		h(w, r)
		s.latency.Record(pattern, time.Since(start))
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data, err := s.cache.Get(r.Context(), homeKey(), s.opts.HomeTTL, func(ctx context.Context) ([]byte, error) {
		home, err := s.opts.Source.Home(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(home)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONBytes(w, data)
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	channel, show := r.PathValue("channel"), r.PathValue("tvshow")
	query := r.URL.Query()

	if raw := query.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 0 {
			http.Error(w, fmt.Sprintf("invalid page %q", raw), http.StatusBadRequest)
			return
		}
		data, err := s.episodesPage(r.Context(), channel, show, page)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSONBytes(w, data)
		return
	}

	loadMore := false
	if raw := query.Get("load_more"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid load_more %q", raw), http.StatusBadRequest)
			return
		}
		loadMore = v
	}

	result, err := s.loadEpisodes(r.Context(), channel, show, loadMore)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// loadEpisodes returns the cumulative episode list for a show. loadMore
// advances the show's cursor by one page when more pages exist; otherwise
// the cursor is reset to the first page.
func (s *Server) loadEpisodes(ctx context.Context, channel, show string, loadMore bool) (catalog.EpisodePage, error) {
	cursorKey := episodesKey(channel, show, 0)
	want := 1
	if loadMore {
		want = s.cursors.get(cursorKey) + 1
	}

	result := catalog.EpisodePage{Episodes: []string{}}
	loaded := 0
	for page := 0; page < want; page++ {
		data, err := s.episodesPage(ctx, channel, show, page)
		if err != nil {
			return catalog.EpisodePage{}, err
		}
		var p catalog.EpisodePage
		if err := json.Unmarshal(data, &p); err != nil {
			return catalog.EpisodePage{}, fmt.Errorf("corrupt episodes page %d: %w", page, err)
		}
		result.Episodes = append(result.Episodes, p.Episodes...)
		result.HasMore = p.HasMore
		loaded = page + 1
		if !p.HasMore {
			break
		}
	}

	s.cursors.set(cursorKey, loaded)
	return result, nil
}

func (s *Server) episodesPage(ctx context.Context, channel, show string, page int) ([]byte, error) {
	return s.cache.Get(ctx, episodesKey(channel, show, page), s.opts.EpisodesTTL, func(ctx context.Context) ([]byte, error) {
		p, err := s.opts.Source.Episodes(ctx, channel, show, page)
		if err != nil {
			return nil, err
		}
		if p.Episodes == nil {
			p.Episodes = []string{}
		}
		return json.Marshal(p)
	})
}

func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	channel, show, episode := r.PathValue("channel"), r.PathValue("tvshow"), r.PathValue("episode")
	data, err := s.cache.Get(r.Context(), episodeKey(channel, show, episode), s.opts.EpisodeTTL, func(ctx context.Context) ([]byte, error) {
		parts, err := s.opts.Source.Episode(ctx, channel, show, episode)
		if err != nil {
			return nil, err
		}
		if parts == nil {
			parts = []catalog.EpisodePart{}
		}
		return json.Marshal(parts)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONBytes(w, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Stats())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if errors.Is(err, context.Canceled) {
		// The client is usually gone; the status only shows up in proxies and logs.
		s.logger.Debug("request cancelled", "path", r.URL.Path)
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSONBytes(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONBytes(w, data)
}

func homeKey() string {
	return "home"
}

func episodesKey(channel, show string, page int) string {
	return "episodes/" + url.PathEscape(channel) + "/" + url.PathEscape(show) + "/" + strconv.Itoa(page)
}

func episodeKey(channel, show, episode string) string {
	return strings.Join([]string{"episode", url.PathEscape(channel), url.PathEscape(show), url.PathEscape(episode)}, "/")
}

// cursorTable remembers how many episode pages each show has loaded.
type cursorTable struct {
	mu    sync.Mutex
	pages map[string]int
}

func newCursorTable() *cursorTable {
	return &cursorTable{pages: make(map[string]int)}
}

func (c *cursorTable) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages[key]
}

func (c *cursorTable) set(key string, pages int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[key] = pages
}
