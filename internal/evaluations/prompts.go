package evaluations

import (
	"fmt"
	"strings"
)

// visionHint steers the image description toward what the rubric
// scores.
const visionHint = "Describe this design in detail: layout and composition, typography choices, " +
	"color palette and contrast, visual hierarchy, distinctive stylistic elements, and how the " +
	"design would hold up at small sizes. Be concrete and factual."

// buildScoringQuery assembles the rubric instructions plus the image
// description into the query sent to the scoring service.
func buildScoringQuery(description string) string {
	var b strings.Builder
	b.WriteString("You are a strict design critic. Score the design described below against the rubric.\n")
	b.WriteString("Return a single JSON object and nothing else. Use this exact shape:\n")
	b.WriteString(`{"criteria":{`)
	for i, c := range Rubric {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `"%s":{"points":0,"rationale":"","suggestions":[]}`, c.Code)
	}
	b.WriteString(`},"strengths":[],"weaknesses":[],"summary":""}`)
	b.WriteString("\n\nCriteria and maximum points:\n")
	for _, c := range Rubric {
		fmt.Fprintf(&b, "- %s (%s): max %d points\n", c.Display, c.Code, c.MaxPoints)
	}
	b.WriteString("\nDesign description:\n")
	b.WriteString(description)
	return b.String()
}

// buildExtendedQuery asks for the pro-tier deep-dive sections.
func buildExtendedQuery(description string) string {
	var b strings.Builder
	b.WriteString("You are a strict design critic. For the design described below, write three short expert analyses.\n")
	b.WriteString("Return a single JSON object and nothing else:\n")
	b.WriteString(`{"colorAnalysis":"","typographyAnalysis":"","visualLanguageAnalysis":""}`)
	b.WriteString("\n\nDesign description:\n")
	b.WriteString(description)
	return b.String()
}
