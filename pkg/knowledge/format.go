package knowledge

import (
	"fmt"
	"strings"
)

// NoResultsMessage is returned by Format when nothing matched
const NoResultsMessage = "No relevant knowledge found."

// Format renders results as a numbered listing naming each source.
func Format(results []Result) string {
	if len(results) == 0 {
		return NoResultsMessage
	}

	var b strings.Builder
	b.WriteString("Found the following relevant information:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n(Source: %s)\n\n", i+1, r.Title, r.Content, sourceLabel(r.Source))
	}
	return strings.TrimRight(b.String(), "\n")
}

func sourceLabel(s Source) string {
	if s == SourceKG {
		return "knowledge graph"
	}
	return "knowledge base"
}
