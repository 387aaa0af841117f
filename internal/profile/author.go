package profile

import (
	"strings"
	"unicode"
)

// Author is the cache's resolved projection of a kind-0 event.
type Author struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	About       string
	NIP05       string
	Website     string
	LUD16       string
	Banner      string
	Pronouns    string
}

type kind0Content struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Picture     string `json:"picture"`
	About       string `json:"about"`
	NIP05       string `json:"nip05"`
	Website     string `json:"website"`
	LUD16       string `json:"lud16"`
	Banner      string `json:"banner"`
	Pronouns    string `json:"pronouns"`
}

const (
	maxNameLen     = 16
	maxDisplayLen  = 64
	maxAboutLen    = 500
	maxPictureLen  = 512
	maxWebsiteLen  = 256
	maxNIP05Len    = 128
	maxLUD16Len    = 128
	maxPronounsLen = 32
)

// sanitize trims, strips control characters, collapses internal whitespace,
// discards the literal string "null" (a known artifact of some clients'
// JSON round-tripping), and truncates to max runes.
func sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}

	var b strings.Builder
	lastWasSpace := false
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if lastWasSpace {
				continue
			}
			lastWasSpace = true
			b.WriteRune(' ')
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())

	runes := []rune(out)
	if len(runes) > max {
		out = string(runes[:max])
	}
	return out
}

func placeholderName(pubkey string) string {
	n := pubkey
	if len(n) > 8 {
		n = n[:8]
	}
	return n + "…"
}

// authorFromContent builds an Author from a sanitized kind-0 JSON payload.
func authorFromContent(pubkey string, c kind0Content) Author {
	name := sanitize(c.Name, maxNameLen)
	displayName := sanitize(c.DisplayName, maxDisplayLen)
	if displayName == "" {
		displayName = name
	}
	if displayName == "" {
		displayName = placeholderName(pubkey)
	}

	return Author{
		ID:          pubkey,
		Username:    name,
		DisplayName: displayName,
		AvatarURL:   sanitize(c.Picture, maxPictureLen),
		About:       sanitize(c.About, maxAboutLen),
		NIP05:       sanitize(c.NIP05, maxNIP05Len),
		Website:     sanitize(c.Website, maxWebsiteLen),
		LUD16:       sanitize(c.LUD16, maxLUD16Len),
		Banner:      sanitize(c.Banner, maxPictureLen),
		Pronouns:    sanitize(c.Pronouns, maxPronounsLen),
	}
}

// placeholderAuthor is returned by ResolveAuthor for an unknown pubkey. It
// never blocks and never fails.
func placeholderAuthor(pubkey string) Author {
	ph := placeholderName(pubkey)
	return Author{ID: pubkey, DisplayName: ph, Username: ph}
}
