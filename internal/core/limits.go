package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Wire-protocol limits.
const (
	MaxNameLength     = 24              // runes in a display name after normalization
	MaxRoomKeyLength  = 253             // a DNS host name plus port fits comfortably
	MaxChatLength     = 2000            // runes in a chat or DM body
	MaxPinLength      = 500             // runes in a pinned message
	MaxImageBase64    = 2 * 1024 * 1024 // encoded image payload size in bytes

	// DefaultHistoryCapacity is the per-room replay log size.
	DefaultHistoryCapacity = 200

	// DefaultRoomIdleTTL is how long an empty room keeps its ban, history and
	// pin state before the sweep drops it.
	DefaultRoomIdleTTL = 30 * time.Minute

	// sendBuffer is the per-connection outbound queue depth.
	sendBuffer = 256
)

// allowedImageTypes lists the mime types accepted for imageMessage.
var allowedImageTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
}

// NormalizeName collapses whitespace runs to one space, trims, and truncates
// to MaxNameLength runes. It returns an error if nothing is left.
func NormalizeName(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", fmt.Errorf("name must not be empty")
	}
	return truncateRunes(s, MaxNameLength), nil
}

// NormalizeRoom trims and lower-cases a room key. Host names are case
// insensitive, so "Doge.example.com" and "doge.example.com" share a room.
func NormalizeRoom(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return "", fmt.Errorf("room must not be empty")
	case len(s) > MaxRoomKeyLength:
		return "", fmt.Errorf("room must not exceed %d characters", MaxRoomKeyLength)
	}
	return s, nil
}

// truncateRunes cuts s to at most n runes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
