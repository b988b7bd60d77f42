package library

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/tessro/tandem/internal/core"
)

// Song is a library record.
type Song struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Artist    Artist `json:"artist"`
	Album     Album  `json:"album"`
	Genre     string `json:"genre"`
	Duration  int    `json:"duration"`
	AudioFile string `json:"audio_file"`
	HLSURL    string `json:"hls_url"`
	SpotifyID string `json:"spotify_id"`
	CreatedAt string `json:"created_at"`
}

type Artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	CoverImage string `json:"cover_image"`
}

// ToCore converts the record. The direct file is the first candidate and
// the HLS stream the second.
func (s Song) ToCore() core.Track {
	t := core.Track{
		ID:          strconv.FormatInt(s.ID, 10),
		Name:        s.Title,
		Artist:      s.Artist.Name,
		Album:       s.Album.Title,
		Duration:    time.Duration(s.Duration) * time.Second,
		Source:      core.SourceLibrary,
		AudioURL:    s.AudioFile,
		DownloadURL: s.HLSURL,
		ImageURL:    s.Album.CoverImage,
	}
	if s.SpotifyID != "" {
		t.URI = "spotify:track:" + s.SpotifyID
	}
	return t
}

// songPage decodes either a bare list or a paginated {"results": [...]}
// envelope.
type songPage []Song

func (p *songPage) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var list []Song
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*p = list
		return nil
	}
	var env struct {
		Results []Song `json:"results"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	*p = env.Results
	return nil
}
