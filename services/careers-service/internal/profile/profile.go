// Package profile holds the candidate data used to render CVs and cover letters.
package profile

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed default.json
var defaultProfile []byte

type Experience struct {
	Company    string   `json:"company"`
	Title      string   `json:"title"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Highlights []string `json:"highlights"`
}

// Period renders "start - end", using "present" for an open end.
func (e Experience) Period() string {
	end := e.End
	if end == "" {
		end = "present"
	}
	return e.Start + " - " + end
}

type Education struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
	Year        string `json:"year"`
}

type Profile struct {
	Name       string       `json:"name"`
	Headline   string       `json:"headline"`
	Email      string       `json:"email"`
	Phone      string       `json:"phone"`
	Location   string       `json:"location"`
	Website    string       `json:"website"`
	Summary    string       `json:"summary"`
	Skills     []string     `json:"skills"`
	Experience []Experience `json:"experience"`
	Education  []Education  `json:"education"`
}

// Load reads the profile at path, or the embedded default when path is empty.
func Load(path string) (Profile, error) {
	raw := defaultProfile
	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Profile{}, fmt.Errorf("profile: read %s: %w", path, err)
		}
		raw = b
	}
	return Parse(raw)
}

func Parse(raw []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("profile: decode: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return Profile{}, errors.New("profile: name is required")
	}
	return p, nil
}
