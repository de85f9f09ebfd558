// Package detective performs deterministic fault localisation: it parses raw
// log text into structured errors, categorises the failure, ranks suspect
// files against the working tree, and scores recent git history for
// relevance. It never calls a language model.
package detective

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/neverdownhq/neverdown/internal/model"
)

// frame is one stack frame extracted from a traceback.
type frame struct {
	File     string
	Line     int
	Function string
}

// parsedError is one error plus its frames, before user-frame election.
type parsedError struct {
	Kind    string
	Message string
	Frames  []frame
	Stack   string
}

// libraryMarkers identify frames that belong to dependencies rather than
// user code.
var libraryMarkers = []string{
	"site-packages",
	"dist-packages",
	"node_modules",
	"/usr/lib",
	"/usr/local/lib",
	"venv/",
	".venv/",
	"internal/modules", // node runtime frames
}

func isLibraryPath(path string) bool {
	for _, marker := range libraryMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// electUserFrame picks the most specific user frame: the last frame whose
// path is not library code. Falls back to the innermost frame.
func electUserFrame(frames []frame) (frame, bool) {
	if len(frames) == 0 {
		return frame{}, false
	}
	for i := len(frames) - 1; i >= 0; i-- {
		if !isLibraryPath(frames[i].File) {
			return frames[i], true
		}
	}
	return frames[len(frames)-1], true
}

// --- Python-style tracebacks ---

var (
	pyTracebackRe = regexp.MustCompile(`(?m)^Traceback \(most recent call last\):`)
	pyFrameRe     = regexp.MustCompile(`File "([^"]+)", line (\d+), in (\S+)`)
	pyErrorRe     = regexp.MustCompile(`(?m)^([A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception|Warning|Interrupt|Exit))\s*:?\s*(.*)$`)
)

// parsePythonTracebacks extracts every traceback block from the logs.
func parsePythonTracebacks(logs string) []parsedError {
	starts := pyTracebackRe.FindAllStringIndex(logs, -1)
	var errs []parsedError
	for i, span := range starts {
		end := len(logs)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		block := logs[span[0]:end]

		var frames []frame
		for _, m := range pyFrameRe.FindAllStringSubmatch(block, -1) {
			line, _ := strconv.Atoi(m[2])
			frames = append(frames, frame{File: m[1], Line: line, Function: m[3]})
		}
		if len(frames) == 0 {
			continue
		}

		kind, message := "Error", ""
		if m := pyErrorRe.FindStringSubmatch(block); m != nil {
			kind, message = m[1], strings.TrimSpace(m[2])
		}
		errs = append(errs, parsedError{
			Kind:    kind,
			Message: message,
			Frames:  frames,
			Stack:   strings.TrimSpace(block),
		})
	}
	return errs
}

// --- JavaScript-style stacks ---

var (
	jsHeaderRe     = regexp.MustCompile(`(?m)^\s*(\w*Error|\w*Exception)\s*:\s*(.*)$`)
	jsFrameFuncRe  = regexp.MustCompile(`at\s+(\S+)\s+\(([^)]+):(\d+):(\d+)\)`)
	jsFramePlainRe = regexp.MustCompile(`at\s+([^\s(]+):(\d+):(\d+)`)
)

// parseJSStacks extracts JavaScript-style error blocks.
func parseJSStacks(logs string) []parsedError {
	headers := jsHeaderRe.FindAllStringSubmatchIndex(logs, -1)
	var errs []parsedError
	for i, span := range headers {
		end := len(logs)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		block := logs[span[0]:end]
		m := jsHeaderRe.FindStringSubmatch(block)
		if m == nil {
			continue
		}

		var frames []frame
		for _, fm := range jsFrameFuncRe.FindAllStringSubmatch(block, -1) {
			line, _ := strconv.Atoi(fm[3])
			frames = append(frames, frame{File: fm[2], Line: line, Function: fm[1]})
		}
		if len(frames) == 0 {
			for _, fm := range jsFramePlainRe.FindAllStringSubmatch(block, -1) {
				line, _ := strconv.Atoi(fm[2])
				frames = append(frames, frame{File: fm[1], Line: line})
			}
		}
		if len(frames) == 0 {
			continue
		}
		errs = append(errs, parsedError{
			Kind:    m[1],
			Message: strings.TrimSpace(m[2]),
			Frames:  frames,
			Stack:   strings.TrimSpace(block),
		})
	}
	return errs
}

// --- Generic line scan ---

var (
	genericErrorRe = regexp.MustCompile(`(?m)^.*?\b(ERROR|FATAL|error)\b[:\s]+(.+)$`)
	pathTokenRe    = regexp.MustCompile(`([\w./\\-]+\.\w{1,4}):(\d+)`)
)

// parseGenericErrors scans line-by-line for error markers, pulling file:line
// tokens out of the message text when present.
func parseGenericErrors(logs string) []parsedError {
	var errs []parsedError
	for _, m := range genericErrorRe.FindAllStringSubmatch(logs, -1) {
		message := strings.TrimSpace(m[2])
		pe := parsedError{Kind: strings.ToUpper(m[1]), Message: message}
		if pm := pathTokenRe.FindStringSubmatch(message); pm != nil {
			line, _ := strconv.Atoi(pm[2])
			pe.Frames = []frame{{File: pm[1], Line: line}}
		}
		errs = append(errs, pe)
	}
	return errs
}

// --- JSON-lines logs ---

var jsonErrorLevels = map[string]bool{
	"error":     true,
	"critical":  true,
	"fatal":     true,
	"exception": true,
}

// parseJSONLines interprets one-JSON-object-per-line logs, keeping only
// error-level records. Returns false when the logs are not JSON-lines shaped.
func parseJSONLines(logs string) ([]parsedError, bool) {
	lines := strings.Split(strings.TrimSpace(logs), "\n")
	if len(lines) == 0 {
		return nil, false
	}

	var errs []parsedError
	parsed := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		parsed++

		level, _ := record["level"].(string)
		if !jsonErrorLevels[strings.ToLower(level)] {
			continue
		}
		pe := parsedError{Kind: strings.ToUpper(level)}
		if msg, ok := record["message"].(string); ok {
			pe.Message = msg
		} else if msg, ok := record["msg"].(string); ok {
			pe.Message = msg
		}
		if stack, ok := record["stack"].(string); ok {
			pe.Stack = stack
			if py := parsePythonTracebacks(stack); len(py) > 0 {
				pe.Frames = py[0].Frames
				if pe.Kind == "ERROR" || pe.Kind == "" {
					pe.Kind = py[0].Kind
				}
			} else if js := parseJSStacks(stack); len(js) > 0 {
				pe.Frames = js[0].Frames
			}
		}
		if file, ok := record["file"].(string); ok && len(pe.Frames) == 0 {
			f := frame{File: file}
			if lineNo, ok := record["line"].(float64); ok {
				f.Line = int(lineNo)
			}
			pe.Frames = []frame{f}
		}
		errs = append(errs, pe)
	}

	// Treat as JSON-lines only when at least half the non-blank lines parse.
	nonBlank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonBlank++
		}
	}
	if nonBlank == 0 || parsed*2 < nonBlank {
		return nil, false
	}
	return errs, true
}

// ParseLogs runs the format recognisers and returns structured errors. The
// stack-trace recognisers run concurrently; the first of Python, JavaScript,
// generic that produced frames with file attribution wins. JSON-lines input
// short-circuits the text recognisers.
func ParseLogs(ctx context.Context, logs string) []model.ExtractedError {
	if errs, ok := parseJSONLines(logs); ok {
		return toExtracted(errs)
	}

	var py, js, generic []parsedError
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { py = parsePythonTracebacks(logs); return nil })
	g.Go(func() error { js = parseJSStacks(logs); return nil })
	g.Go(func() error { generic = parseGenericErrors(logs); return nil })
	_ = g.Wait()

	for _, candidate := range [][]parsedError{py, js, generic} {
		if hasFileAttribution(candidate) {
			return toExtracted(candidate)
		}
	}
	// No recogniser attributed a file; fall back to whichever found anything.
	for _, candidate := range [][]parsedError{py, js, generic} {
		if len(candidate) > 0 {
			return toExtracted(candidate)
		}
	}
	return nil
}

func hasFileAttribution(errs []parsedError) bool {
	for _, e := range errs {
		if len(e.Frames) > 0 {
			return true
		}
	}
	return false
}

// toExtracted converts parsed errors to the report shape, electing the user
// frame for file attribution.
func toExtracted(errs []parsedError) []model.ExtractedError {
	var out []model.ExtractedError
	for _, pe := range errs {
		e := model.ExtractedError{
			Kind:    pe.Kind,
			Message: pe.Message,
			Stack:   pe.Stack,
		}
		if f, ok := electUserFrame(pe.Frames); ok {
			e.File = f.File
			e.Line = f.Line
		}
		out = append(out, e)
	}
	return out
}

// ExtractFunctions pulls suspected functions out of the raw logs using the
// same frame recognisers, electing user frames only.
func ExtractFunctions(logs string) []model.SuspectedFunction {
	var all []parsedError
	all = append(all, parsePythonTracebacks(logs)...)
	all = append(all, parseJSStacks(logs)...)

	seen := make(map[string]bool)
	var out []model.SuspectedFunction
	for _, pe := range all {
		f, ok := electUserFrame(pe.Frames)
		if !ok || f.Function == "" || f.Function == "<module>" {
			continue
		}
		key := f.Function + "@" + f.File
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, model.SuspectedFunction{
			Name:       f.Function,
			File:       f.File,
			Line:       f.Line,
			Confidence: 0.8,
		})
	}
	return out
}
