// Package catalog defines the TV catalog model served by tvserver and the
// sources it can be read from.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrNotFound is returned when a channel, show or episode does not exist.
var ErrNotFound = errors.New("not found")

// Source provides catalog data. Implementations must be safe for concurrent use.
type Source interface {
	// Home returns every channel with its shows, in display order.
	Home(ctx context.Context) (Home, error)

	// Episodes returns page (0-based) of a show's episode names.
	Episodes(ctx context.Context, channel, show string, page int) (EpisodePage, error)

	// Episode returns the playable parts of an episode.
	Episode(ctx context.Context, channel, show, episode string) ([]EpisodePart, error)
}

// TvShow is a show as listed on the home screen.
type TvShow struct {
	Title string `json:"title" yaml:"title"`
	Icon  string `json:"icon" yaml:"icon"`
}

// Channel groups the shows of one TV channel.
type Channel struct {
	Name  string
	Shows []TvShow
}

// Home is the ordered list of channels. It encodes as a JSON object keyed by
// channel name, keeping channel order.
type Home []Channel

// MarshalJSON writes the channels as an object in slice order.
func (h Home) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ch := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(ch.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		shows := ch.Shows
		if shows == nil {
			shows = []TvShow{}
		}
		data, err := json.Marshal(shows)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads channels in document order. encoding/json maps lose
// key order, so the object is walked with gjson.
func (h *Home) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid home JSON")
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return fmt.Errorf("home JSON must be an object, got %s", res.Type)
	}

	var out Home
	var err error
	res.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			err = fmt.Errorf("channel %q: expected array of shows", key.String())
			return false
		}
		ch := Channel{Name: key.String(), Shows: []TvShow{}}
		value.ForEach(func(_, show gjson.Result) bool {
			if !show.IsObject() {
				err = fmt.Errorf("channel %q: show %d: expected object, got %s", ch.Name, len(ch.Shows), show.Type)
				return false
			}
			ch.Shows = append(ch.Shows, TvShow{
				Title: show.Get("title").String(),
				Icon:  show.Get("icon").String(),
			})
			return true
		})
		if err != nil {
			return false
		}
		out = append(out, ch)
		return true
	})
	if err != nil {
		return err
	}
	if out == nil {
		out = Home{}
	}
	*h = out
	return nil
}

// Channel returns the named channel.
func (h Home) Channel(name string) (Channel, bool) {
	for _, ch := range h {
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// EpisodePage is one page of a show's episode list.
type EpisodePage struct {
	Episodes []string `json:"episodes"`
	HasMore  bool     `json:"has_more"`
}

// EpisodePart is one playable part of an episode. It encodes as a
// [title, url] pair.
type EpisodePart struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

func (p EpisodePart) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Title, p.URL})
}

func (p *EpisodePart) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("episode part: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("episode part: expected [title, url], got %d elements", len(pair))
	}
	p.Title, p.URL = pair[0], pair[1]
	return nil
}
