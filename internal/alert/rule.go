package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Priority orders rules when choosing which one sounds.
type Priority int

const (
	Low Priority = iota + 1
	Medium
	High
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of Low, Medium or High.
func (p Priority) Valid() bool {
	return p >= Low && p <= High
}

// ParsePriority parses "low", "medium" or "high" in any case.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Origin records where a rule came from.
type Origin string

const (
	OriginManual Origin = "manual"
	OriginSeed   Origin = "seed"
	OriginFile   Origin = "file"
)

// Rule is an operator defined keyword. The keyword text never changes after
// creation; remove and re-add to rename.
type Rule struct {
	ID           string    `json:"id"`
	Keyword      string    `json:"keyword"`
	Priority     Priority  `json:"priority"`
	SoundEnabled bool      `json:"sound_enabled"`
	Origin       Origin    `json:"origin"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	ErrEmptyKeyword     = errors.New("keyword is empty")
	ErrDuplicateKeyword = errors.New("keyword already registered")
	ErrRuleNotFound     = errors.New("alert rule not found")
	ErrInvalidPriority  = errors.New("invalid priority")
)
