// Package topic implements MQTT-style topic pattern validation and matching.
package topic

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Separator   = "/"
	SingleLevel = "+"
	MultiLevel  = "#"
)

var (
	ErrEmptyPattern     = errors.New("pattern is empty")
	ErrMultiLevelNotEnd = errors.New("'#' is only allowed as the last segment")
	ErrMixedWildcard    = errors.New("wildcard must occupy a whole segment")
	ErrNATSUnsafe       = errors.New("segment cannot be expressed as a NATS token")
)

// ValidatePattern reports whether pattern is a legal subscription filter.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrEmptyPattern
	}
	segments := strings.Split(pattern, Separator)
	for i, seg := range segments {
		switch seg {
		case SingleLevel:
			continue
		case MultiLevel:
			if i != len(segments)-1 {
				return fmt.Errorf("pattern %q: %w", pattern, ErrMultiLevelNotEnd)
			}
			continue
		}
		if strings.ContainsAny(seg, SingleLevel+MultiLevel) {
			return fmt.Errorf("pattern %q segment %q: %w", pattern, seg, ErrMixedWildcard)
		}
	}

	return nil
}

// ValidateTopic rejects topics that are empty or carry wildcard characters.
func ValidateTopic(topic string) error {
	if topic == "" {
		return errors.New("topic is empty")
	}
	if strings.ContainsAny(topic, SingleLevel+MultiLevel) {
		return fmt.Errorf("topic %q contains wildcard characters", topic)
	}

	return nil
}

// Matches reports whether topic satisfies pattern. Segments are compared left
// to right; '+' consumes exactly one segment and a trailing '#' consumes zero or
// more. Invalid patterns never match.
func Matches(pattern, topic string) bool {
	if ValidatePattern(pattern) != nil {
		return false
	}

	patSegs := strings.Split(pattern, Separator)
	topSegs := strings.Split(topic, Separator)

	for i, seg := range patSegs {
		if seg == MultiLevel {
			// "a/#" also matches the parent level "a".
			return true
		}
		if i >= len(topSegs) {
			return false
		}
		if seg == SingleLevel {
			continue
		}
		if seg != topSegs[i] {
			return false
		}
	}

	return len(patSegs) == len(topSegs)
}

// Segments splits a topic into its levels.
func Segments(topic string) []string {
	return strings.Split(topic, Separator)
}

// Join builds a topic from levels.
func Join(levels ...string) string {
	return strings.Join(levels, Separator)
}

// ValidateNATS rejects topics and patterns that would not survive the trip to a
// NATS subject and back: empty levels, and levels containing '.', whitespace,
// '*' or '>'.
func ValidateNATS(t string) error {
	for _, seg := range strings.Split(t, Separator) {
		if seg == "" || strings.ContainsAny(seg, ".*> \t\r\n") {
			return fmt.Errorf("%q segment %q: %w", t, seg, ErrNATSUnsafe)
		}
	}

	return nil
}

// ToNATSSubject translates an MQTT pattern or topic into a NATS subject.
// Callers check ValidateNATS first.
func ToNATSSubject(pattern string) string {
	segments := strings.Split(pattern, Separator)
	for i, seg := range segments {
		switch seg {
		case SingleLevel:
			segments[i] = "*"
		case MultiLevel:
			segments[i] = ">"
		}
	}

	return strings.Join(segments, ".")
}

// FromNATSSubject is the inverse of ToNATSSubject for concrete subjects.
func FromNATSSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", Separator)
}
