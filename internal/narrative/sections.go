package narrative

import (
	"strings"

	"github.com/asklens/asklens/pkg/models"
)

// ParseSections splits markdown output into typed sections. Headings map to
// a closed set of section types (unrecognized headings become detail); a
// trailing italic line becomes the data_sources section; output without any
// heading becomes a single answer section.
func ParseSections(content string) []models.NarrativeSection {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	content, dataSources := splitDataSources(content)

	var sections []models.NarrativeSection
	var heading string
	var body []string
	started := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text == "" && heading == "" {
			return
		}
		typ := models.SectionAnswer
		if started {
			typ = sectionTypeFor(heading)
		}
		sections = append(sections, models.NarrativeSection{Type: typ, Heading: heading, Body: text})
	}

	for _, line := range strings.Split(content, "\n") {
		if h, ok := headingText(line); ok {
			flush()
			heading, body, started = h, nil, true
			continue
		}
		body = append(body, line)
	}
	flush()

	if dataSources != "" {
		sections = append(sections, models.NarrativeSection{Type: models.SectionDataSources, Body: dataSources})
	}
	return sections
}

// headingText reports whether the line is a markdown heading and returns its
// text without the leading hashes.
func headingText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(trimmed, "#")), true
}

// sectionTypeFor maps a heading to its section type. The set is closed:
// anything unrecognized is detail, never a new type.
func sectionTypeFor(heading string) models.SectionType {
	h := strings.ToLower(strings.TrimSpace(heading))
	switch {
	case strings.Contains(h, "finding"):
		return models.SectionFinding
	case strings.Contains(h, "trend"):
		return models.SectionTrend
	case strings.Contains(h, "recommendation"):
		return models.SectionRecommendation
	case strings.Contains(h, "methodolog"):
		return models.SectionMethodology
	case strings.Contains(h, "answer"), strings.Contains(h, "summary"):
		return models.SectionAnswer
	default:
		return models.SectionDetail
	}
}

// splitDataSources peels a trailing *italic* line off the content and returns
// it unwrapped. Bold (**) lines do not qualify.
func splitDataSources(content string) (rest, dataSources string) {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > 2 &&
			strings.HasPrefix(line, "*") && strings.HasSuffix(line, "*") &&
			!strings.HasPrefix(line, "**") {
			return strings.TrimSpace(strings.Join(lines[:i], "\n")), strings.Trim(line, "*")
		}
		break
	}
	return content, ""
}
