package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultAge is used for scoring when a profile has neither an age nor a
// birth date.
const DefaultAge = 25

// RestrictionLevel gates what a user may do.  Levels are ordered by
// severity: a level blocks every action that requires a lower one.
type RestrictionLevel uint8

const (
	RestrictionNone RestrictionLevel = iota
	RestrictionLimited
	RestrictionBlocked
)

func (l RestrictionLevel) String() string {
	switch l {
	case RestrictionNone:
		return "none"
	case RestrictionLimited:
		return "limited"
	case RestrictionBlocked:
		return "blocked"
	}
	return fmt.Sprintf("RestrictionLevel(%d)", uint8(l))
}

// ParseRestrictionLevel converts the persisted form.  An empty string is
// treated as none.
func ParseRestrictionLevel(v string) (RestrictionLevel, error) {
	switch v {
	case "", "none":
		return RestrictionNone, nil
	case "limited":
		return RestrictionLimited, nil
	case "blocked":
		return RestrictionBlocked, nil
	}
	return 0, fmt.Errorf("unknown restriction level %q", v)
}

// Profile is the subset of a user's profile consumed by admission and
// matching.
type Profile struct {
	UserID               string
	Name                 string
	Gender               Gender
	Age                  int
	BirthDate            *time.Time
	Interests            []string
	City                 string
	RestrictionLevel     RestrictionLevel
	RestrictionReason    string
	RestrictionExpiresAt *time.Time
	IsDummy              bool
	CreatedAt            time.Time
}

// EffectiveAge returns the stated age, or one derived from the birth
// year, or DefaultAge.
func (p *Profile) EffectiveAge(now time.Time) int {
	if p.Age > 0 {
		return p.Age
	}
	if p.BirthDate != nil && !p.BirthDate.IsZero() {
		return now.Year() - p.BirthDate.Year()
	}
	return DefaultAge
}

// ActiveRestriction returns the restriction level in force at now.  A
// restriction whose expiry has passed no longer applies.
func (p *Profile) ActiveRestriction(now time.Time) RestrictionLevel {
	if p.RestrictionExpiresAt != nil && p.RestrictionExpiresAt.Before(now) {
		return RestrictionNone
	}
	return p.RestrictionLevel
}

// SplitInterests parses the comma-separated persisted form, trimming
// blanks.
func SplitInterests(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinInterests is the inverse of SplitInterests.
func JoinInterests(v []string) string { return strings.Join(v, ", ") }
