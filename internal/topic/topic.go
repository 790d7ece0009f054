// Package topic derives the MQTT topics a room lives under.
package topic

import (
	"errors"
	"strings"
)

// Namespace prefixes every room topic.
const Namespace = "presentationclicker"

const (
	statusSuffix       = "/status"
	presentationSuffix = "/presentation"
)

// Kind classifies an inbound topic.
type Kind int

const (
	KindUnknown Kind = iota
	KindStatus
	KindPresentation
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindPresentation:
		return "presentation"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyRoom   = errors.New("room code is required")
	ErrInvalidRoom = errors.New("room code must not contain '/', '+' or '#'")
)

// Base returns "presentationclicker/<room>".
func Base(room string) string {
	return Namespace + "/" + room
}

// Status is the retained presence topic under base.
func Status(base string) string {
	return base + statusSuffix
}

// Presentation is the action topic under base.
func Presentation(base string) string {
	return base + presentationSuffix
}

// All is the wildcard subscription covering every topic under base.
func All(base string) string {
	return base + "/#"
}

// Classify reports which room topic t is, by suffix.
func Classify(t string) Kind {
	switch {
	case strings.HasSuffix(t, statusSuffix):
		return KindStatus
	case strings.HasSuffix(t, presentationSuffix):
		return KindPresentation
	default:
		return KindUnknown
	}
}

// ValidateRoom rejects rooms that would escape or wildcard the namespace.
func ValidateRoom(room string) error {
	if strings.TrimSpace(room) == "" {
		return ErrEmptyRoom
	}
	if strings.ContainsAny(room, "/+#") {
		return ErrInvalidRoom
	}
	return nil
}
