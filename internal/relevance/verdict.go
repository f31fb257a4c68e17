package relevance

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedVerdict is returned when a model reply is not a {relevant, reason} object.
var ErrMalformedVerdict = errors.New("malformed relevance verdict")

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

type verdictPayload struct {
	Relevant *bool   `json:"relevant"`
	Reason   *string `json:"reason"`
}

// parseVerdict decodes a strict JSON verdict. Code fences and reasoning
// blocks around the object are tolerated; anything else is an error.
func parseVerdict(text string) (bool, string, error) {
	body := strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
	body = stripFence(body)
	if !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		return false, "", fmt.Errorf("%w: not a JSON object: %.80q", ErrMalformedVerdict, body)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var payload verdictPayload
	if err := dec.Decode(&payload); err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if payload.Relevant == nil {
		return false, "", fmt.Errorf("%w: missing relevant field", ErrMalformedVerdict)
	}

	reason := "No reason provided."
	if payload.Reason != nil && strings.TrimSpace(*payload.Reason) != "" {
		reason = strings.TrimSpace(*payload.Reason)
	}
	return *payload.Relevant, reason, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
