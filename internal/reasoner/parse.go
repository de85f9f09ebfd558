package reasoner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/neverdownhq/neverdown/internal/fault"
)

// parsedReply is the structured form of one model response.
type parsedReply struct {
	RootCause   string
	Explanation string
	Confidence  float64
	Assumptions []string
	Diff        string
	Risks       string
}

var (
	sectionRes = map[string]*regexp.Regexp{
		"root_cause":  sectionRe("Root Cause"),
		"explanation": sectionRe("Explanation"),
		"confidence":  sectionRe("Confidence"),
		"assumptions": sectionRe("Assumptions"),
		"fix":         sectionRe("Fix"),
		"risks":       sectionRe("Risks"),
	}

	floatRe      = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	bulletRe     = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)
	fencedDiffRe = regexp.MustCompile("(?s)```(?:diff)?\\s*\n(.*?)```")
)

// sectionRe captures the body of one "## Heading" section up to the next
// heading or end of input.
func sectionRe(heading string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)##\s*` + heading + `\s*\n(.*?)(?:\n##\s|\z)`)
}

func sectionText(content, name string) string {
	m := sectionRes[name].FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// parseReply splits a model response by the required headings. A missing
// Root Cause or Fix section is a parse failure; everything else degrades.
func parseReply(content string) (*parsedReply, error) {
	reply := &parsedReply{
		RootCause:   sectionText(content, "root_cause"),
		Explanation: sectionText(content, "explanation"),
		Risks:       sectionText(content, "risks"),
	}

	if reply.RootCause == "" {
		return nil, fault.New(fault.CodeReasonerError, "response is missing the Root Cause section")
	}

	reply.Confidence = parseConfidence(sectionText(content, "confidence"))

	for _, m := range bulletRe.FindAllStringSubmatch(sectionText(content, "assumptions"), -1) {
		reply.Assumptions = append(reply.Assumptions, strings.TrimSpace(m[1]))
	}

	diff, err := extractDiff(sectionText(content, "fix"))
	if err != nil {
		// Look anywhere in the reply before giving up; models sometimes put
		// the fenced block outside the Fix heading.
		diff, err = extractDiff(content)
	}
	if err != nil {
		return nil, err
	}
	reply.Diff = diff

	return reply, nil
}

// parseConfidence pulls the first decimal out of the section and clamps it
// to [0, 1]. An unparsable section scores zero.
func parseConfidence(section string) float64 {
	m := floatRe.FindString(section)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractDiff pulls the unified diff out of the first fenced block that
// looks like one.
func extractDiff(text string) (string, error) {
	for _, m := range fencedDiffRe.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(m[1])
		if strings.Contains(block, "---") && strings.Contains(block, "+++") {
			return block + "\n", nil
		}
	}
	return "", fault.New(fault.CodeInvalidPatch, "response contains no fenced unified-diff block")
}
