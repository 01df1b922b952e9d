// Package cooldown suppresses repeat alerts for the same hazard at the same
// place within a window of video time.
package cooldown

import (
	"strings"
	"time"
	"unicode"
)

const DefaultWindow = 5 * time.Minute

// Entry is the last accepted detection for one (category, bucket) key.
type Entry struct {
	Category string
	Bucket   string
	LastSeen float64 // seconds of video time
}

type key struct {
	category string
	bucket   string
}

// Tracker is owned by a single session loop and is not safe for concurrent use.
type Tracker struct {
	window  float64
	entries map[key]float64
}

func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:  window.Seconds(),
		entries: make(map[key]float64),
	}
}

// ShouldSuppress reports whether a detection at video time at falls inside the
// window of the last accepted detection with the same key. It never mutates.
func (t *Tracker) ShouldSuppress(category, location string, at float64) bool {
	last, ok := t.entries[newKey(category, location)]
	if !ok {
		return false
	}
	return last+t.window > at
}

// RecordAccepted stamps the key with at.
func (t *Tracker) RecordAccepted(category, location string, at float64) {
	t.entries[newKey(category, location)] = at
}

func (t *Tracker) Len() int {
	return len(t.entries)
}

func (t *Tracker) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for k, v := range t.entries {
		out = append(out, Entry{Category: k.category, Bucket: k.bucket, LastSeen: v})
	}
	return out
}

func newKey(category, location string) key {
	return key{category: Normalize(category), bucket: Bucket(location)}
}

// Bucket reduces free-text location to a coarse key. Empty input maps to "unknown".
func Bucket(location string) string {
	if b := Normalize(location); b != "" {
		return b
	}
	return "unknown"
}

// Normalize lowercases s, turns anything that is not a letter or digit into a
// space and collapses runs of whitespace.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
