package jamendo

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/tessro/tandem/internal/core"
)

// Defaults the proxy fills in for incomplete records.
const (
	DefaultDuration = 180 * time.Second
	UnknownArtist   = "Unknown Artist"
	UnknownAlbum    = "Unknown Album"
)

// Track is a catalog record as returned by the proxy.
type Track struct {
	ID            flexString `json:"id"`
	Name          string     `json:"name"`
	ArtistName    string     `json:"artist_name"`
	AlbumName     string     `json:"album_name"`
	Duration      flexInt    `json:"duration"`
	Audio         string     `json:"audio"`
	AudioDownload string     `json:"audiodownload"`
	ShortURL      string     `json:"shorturl"`
	Image         string     `json:"image"`
	AlbumImage    string     `json:"album_image"`
}

// ToCore converts the record, applying the same defaults as the proxy so
// direct and proxied responses look alike.
func (t Track) ToCore() core.Track {
	d := time.Duration(t.Duration) * time.Second
	if d <= 0 {
		d = DefaultDuration
	}
	return core.Track{
		ID:          string(t.ID),
		Name:        t.Name,
		Artist:      orDefault(t.ArtistName, UnknownArtist),
		Album:       orDefault(t.AlbumName, UnknownAlbum),
		Duration:    d,
		AudioURL:    t.Audio,
		DownloadURL: t.AudioDownload,
		ShortURL:    t.ShortURL,
		ImageURL:    orDefault(t.Image, t.AlbumImage),
		Source:      core.SourceJamendo,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string. Unparseable values
// decode as zero.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(f)
	return nil
}
