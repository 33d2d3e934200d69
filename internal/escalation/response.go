package escalation

import (
	"fmt"
	"strings"
)

// Response is the classification of an actor's reply to one turn.
type Response string

const (
	Cooperative   Response = "cooperative"
	Neutral       Response = "neutral"
	Uncooperative Response = "uncooperative"
	Timeout       Response = "timeout"
)

// ParseResponse parses a response class name.
func ParseResponse(s string) (Response, error) {
	switch r := Response(strings.ToLower(strings.TrimSpace(s))); r {
	case Cooperative, Neutral, Uncooperative, Timeout:
		return r, nil
	}
	return "", fmt.Errorf("unknown response class %q", s)
}

// escalates reports whether r moves the session up a level.
func (r Response) escalates() bool {
	return r == Uncooperative || r == Timeout
}
