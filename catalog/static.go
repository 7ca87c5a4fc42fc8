package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPageSize is the number of episodes per page when a catalog file
// does not set one.
const DefaultPageSize = 20

// File is the on-disk layout of a static catalog.
type File struct {
	PageSize int           `yaml:"page_size"`
	Channels []FileChannel `yaml:"channels"`
}

type FileChannel struct {
	Name  string     `yaml:"name"`
	Shows []FileShow `yaml:"shows"`
}

type FileShow struct {
	Title    string        `yaml:"title"`
	Icon     string        `yaml:"icon"`
	Episodes []FileEpisode `yaml:"episodes"`
}

type FileEpisode struct {
	Name  string        `yaml:"name"`
	Parts []EpisodePart `yaml:"parts"`
}

// Static serves a catalog held in memory, usually read from a YAML file.
type Static struct {
	file     File
	pageSize int
}

// NewStatic creates a source over an already parsed catalog.
func NewStatic(f File) *Static {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Static{file: f, pageSize: pageSize}
}

// LoadStatic reads a YAML catalog file.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return NewStatic(f), nil
}

// Home returns all channels in file order.
func (s *Static) Home(ctx context.Context) (Home, error) {
	home := make(Home, 0, len(s.file.Channels))
	for _, ch := range s.file.Channels {
		shows := make([]TvShow, 0, len(ch.Shows))
		for _, show := range ch.Shows {
			shows = append(shows, TvShow{Title: show.Title, Icon: show.Icon})
		}
		home = append(home, Channel{Name: ch.Name, Shows: shows})
	}
	return home, nil
}

// Episodes returns one page of episode names.
func (s *Static) Episodes(ctx context.Context, channel, show string, page int) (EpisodePage, error) {
	if page < 0 {
		return EpisodePage{}, fmt.Errorf("invalid page %d", page)
	}
	sh, err := s.show(channel, show)
	if err != nil {
		return EpisodePage{}, err
	}

	start := page * s.pageSize
	if start > len(sh.Episodes) {
		start = len(sh.Episodes)
	}
	end := start + s.pageSize
	if end > len(sh.Episodes) {
		end = len(sh.Episodes)
	}

	names := make([]string, 0, end-start)
	for _, ep := range sh.Episodes[start:end] {
		names = append(names, ep.Name)
	}
	return EpisodePage{Episodes: names, HasMore: end < len(sh.Episodes)}, nil
}

// Episode returns the parts of one episode.
func (s *Static) Episode(ctx context.Context, channel, show, episode string) ([]EpisodePart, error) {
	sh, err := s.show(channel, show)
	if err != nil {
		return nil, err
	}
	for _, ep := range sh.Episodes {
		if ep.Name == episode {
			parts := make([]EpisodePart, len(ep.Parts))
			copy(parts, ep.Parts)
			return parts, nil
		}
	}
	return nil, fmt.Errorf("episode %q of %q/%q: %w", episode, channel, show, ErrNotFound)
}

func (s *Static) show(channel, show string) (*FileShow, error) {
	for i := range s.file.Channels {
		ch := &s.file.Channels[i]
		if ch.Name != channel {
			continue
		}
		for j := range ch.Shows {
			if ch.Shows[j].Title == show {
				return &ch.Shows[j], nil
			}
		}
		return nil, fmt.Errorf("show %q on channel %q: %w", show, channel, ErrNotFound)
	}
	return nil, fmt.Errorf("channel %q: %w", channel, ErrNotFound)
}
