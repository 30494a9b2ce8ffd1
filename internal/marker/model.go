package marker

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrNotFound = errors.New("marker not found")

const (
	MinObstacleScore     = 1
	MaxObstacleScore     = 5
	defaultObstacleScore = 1

	maxObstacleTypeLength = 100
	maxDescriptionLength  = 1000
	maxImages             = 10
	maxImageURLLength     = 500
)

var allowedURLChars = regexp.MustCompile(`^[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+$`)
var allowedHost = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Marker struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Location      Location  `json:"location"`
	ObstacleType  string    `json:"obstacleType"`
	ObstacleScore int       `json:"obstacleScore"`
	Description   string    `json:"description,omitempty"`
	Images        []string  `json:"images"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LocationInput keeps both coordinates optional so a missing one can be told apart from zero.
type LocationInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (l *LocationInput) complete() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

type CreateInput struct {
	Location      *LocationInput `json:"location"`
	ObstacleType  string         `json:"obstacleType"`
	ObstacleScore *int           `json:"obstacleScore"`
	Description   string         `json:"description"`
	Images        []string       `json:"images"`
}

// MarkerPatch is a partial update. Nil fields keep their current value; the owner cannot be
// changed.
type MarkerPatch struct {
	Location      *LocationInput `json:"location"`
	ObstacleType  *string        `json:"obstacleType"`
	ObstacleScore *int           `json:"obstacleScore"`
	Description   *string        `json:"description"`
	Images        *[]string      `json:"images"`
}

func (p MarkerPatch) Apply(m Marker) Marker {
	if p.Location.complete() {
		m.Location = Location{Latitude: *p.Location.Latitude, Longitude: *p.Location.Longitude}
	}
	if p.ObstacleType != nil {
		m.ObstacleType = *p.ObstacleType
	}
	if p.ObstacleScore != nil {
		m.ObstacleScore = *p.ObstacleScore
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Images != nil {
		m.Images = append([]string{}, *p.Images...)
	}
	return m
}

// NearFilter restricts a listing to markers within RadiusKm of a point.
type NearFilter struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
}

type inputError struct {
	message string
}

func (e *inputError) Error() string {
	return e.message
}

func invalid(message string) error {
	return &inputError{message: message}
}

func (in *CreateInput) normalize() error {
	in.ObstacleType = strings.TrimSpace(in.ObstacleType)
	in.Description = strings.TrimSpace(in.Description)
	if !in.Location.complete() || in.ObstacleType == "" {
		return invalid("Missing required fields")
	}
	if err := checkLocation(*in.Location.Latitude, *in.Location.Longitude); err != nil {
		return err
	}
	if err := checkObstacleType(in.ObstacleType); err != nil {
		return err
	}
	if in.ObstacleScore != nil && *in.ObstacleScore == 0 {
		in.ObstacleScore = nil
	}
	if in.ObstacleScore != nil {
		if err := checkScore(*in.ObstacleScore); err != nil {
			return err
		}
	}
	if err := checkDescription(in.Description); err != nil {
		return err
	}
	images, err := normalizeImages(in.Images)
	if err != nil {
		return err
	}
	in.Images = images
	return nil
}

func (p *MarkerPatch) normalize() error {
	if p.Location != nil {
		if !p.Location.complete() {
			return invalid("Location must include both latitude and longitude")
		}
		if err := checkLocation(*p.Location.Latitude, *p.Location.Longitude); err != nil {
			return err
		}
	}
	if p.ObstacleType != nil {
		obstacleType := strings.TrimSpace(*p.ObstacleType)
		if obstacleType == "" {
			return invalid("obstacleType cannot be null")
		}
		if err := checkObstacleType(obstacleType); err != nil {
			return err
		}
		p.ObstacleType = &obstacleType
	}
	if p.ObstacleScore != nil {
		if err := checkScore(*p.ObstacleScore); err != nil {
			return err
		}
	}
	if p.Description != nil {
		description := strings.TrimSpace(*p.Description)
		if err := checkDescription(description); err != nil {
			return err
		}
		p.Description = &description
	}
	if p.Images != nil {
		images, err := normalizeImages(*p.Images)
		if err != nil {
			return err
		}
		p.Images = &images
	}
	return nil
}

func checkLocation(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return invalid("Latitude must be between -90 and 90 and longitude between -180 and 180")
	}
	return nil
}

func checkObstacleType(value string) error {
	if !utf8.ValidString(value) || utf8.RuneCountInString(value) > maxObstacleTypeLength {
		return invalid("obstacleType is invalid")
	}
	return nil
}

func checkScore(score int) error {
	if score < MinObstacleScore || score > MaxObstacleScore {
		return invalid("obstacleScore must be between 1 and 5")
	}
	return nil
}

func checkDescription(value string) error {
	if !utf8.ValidString(value) || utf8.RuneCountInString(value) > maxDescriptionLength {
		return invalid("description is invalid")
	}
	return nil
}

func normalizeImages(images []string) ([]string, error) {
	if len(images) > maxImages {
		return nil, invalid("a marker can have at most 10 images")
	}
	out := make([]string, 0, len(images))
	for _, raw := range images {
		link := strings.TrimSpace(raw)
		if err := checkImageURL(link); err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, nil
}

func checkImageURL(link string) error {
	if link == "" || len(link) > maxImageURLLength || !isASCII(link) || !allowedURLChars.MatchString(link) {
		return invalid("images contain an invalid link")
	}
	parsed, err := url.ParseRequestURI(link)
	if err != nil || parsed.Host == "" {
		return invalid("images must be valid links")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return invalid("images must start with http or https")
	}
	if parsed.User != nil || !allowedHost.MatchString(parsed.Hostname()) {
		return invalid("image host is invalid")
	}
	return nil
}

func isASCII(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < 32 || value[i] > 126 {
			return false
		}
	}
	return true
}
