package calendar

import (
	"regexp"
	"strings"

	"github.com/notetaker/backend/internal/models"
)

// Join URL patterns in priority order.
var meetingURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https://[a-zA-Z0-9.-]*zoom\.us/j/[0-9]+(?:\?[^\s]*)?`),
	regexp.MustCompile(`https://[a-zA-Z0-9.-]*teams\.microsoft\.com/l/meetup-join/[a-zA-Z0-9.-]+(?:\?[^\s]*)?`),
	regexp.MustCompile(`https://meet\.google\.com/[a-zA-Z0-9.-]+(?:\?[^\s]*)?`),
	regexp.MustCompile(`https://[a-zA-Z0-9.-]*webex\.com/[a-zA-Z0-9.-]+(?:\?[^\s]*)?`),
}

// ExtractMeetingURL finds a join URL in an event's description, location and hangout link, falling back
// to the hangout link. It returns "" when nothing matches.
func ExtractMeetingURL(description, location, hangoutLink string) string {
	text := description + " " + location + " " + hangoutLink
	for _, re := range meetingURLPatterns {
		if u := re.FindString(text); u != "" {
			return u
		}
	}
	return hangoutLink
}

// PlatformFromURL derives the platform tag from a join URL.
func PlatformFromURL(u string) string {
	switch {
	case strings.Contains(u, "zoom.us"):
		return models.PlatformZoom
	case strings.Contains(u, "teams.microsoft.com"):
		return models.PlatformTeams
	case strings.Contains(u, "meet.google.com"):
		return models.PlatformMeet
	case strings.Contains(u, "webex.com"):
		return models.PlatformWebex
	}
	return models.PlatformUnknown
}
