package thinktag

import (
	"regexp"
	"strings"
)

var tagRegion = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(OpenTag) + `.*?` + regexp.QuoteMeta(CloseTag))

// Split separates a complete response body into answer and reasoning content.
// Reasoning is the content of the first tag region; a dangling open tag runs
// to the end of the input. The answer is the input with every complete tag
// region removed and a trailing dangling region removed.
func Split(full string) (answer, reasoning string) {
	open := strings.Index(full, OpenTag)
	if open < 0 {
		return full, ""
	}

	rest := full[open+len(OpenTag):]
	if end := strings.Index(rest, CloseTag); end >= 0 {
		reasoning = rest[:end]
	} else {
		reasoning = rest
	}

	answer = tagRegion.ReplaceAllString(full, "")
	if i := strings.Index(answer, OpenTag); i >= 0 {
		answer = answer[:i]
	}
	return answer, reasoning
}
