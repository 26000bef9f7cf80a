package models

import "time"

// MediaItem публикация из социальной сети до превращения в карточку
type MediaItem struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Type      string    `json:"type"` // image | video
	URL       string    `json:"url"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Permalink string    `json:"permalink,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToCard превращает публикацию в карточку ленты
func (m MediaItem) ToCard(cardType CardType) Card {
	media := Media{Type: m.Type, URL: m.URL, Thumbnail: m.Thumbnail, Width: m.Width, Height: m.Height, Alt: truncate(m.Caption, 300)}
	return Card{
		Type:        cardType,
		Title:       truncate(m.Caption, 200),
		Description: truncate(m.Caption, 2000),
		Media:       []Media{media},
		Link:        m.Permalink,
		Source:      m.Provider,
		ExternalID:  m.ID,
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
