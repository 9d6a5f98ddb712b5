package platform

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// transcriptLine is the raw shape of one JSONL transcript record.
type transcriptLine struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Text      string          `json:"text,omitempty"`
	Model     string          `json:"model,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Tool      json.RawMessage `json:"tool,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type toolRecord struct {
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
	Result string          `json:"result,omitempty"`
}

// ParseError records a problem with a single transcript line.
type ParseError struct {
	Line  int
	Error string
}

// ParseResult holds a parsed transcript plus any line errors encountered.
// Bad lines never fail the whole parse; partial transcripts are useful.
type ParseResult struct {
	Transcript *Transcript
	ErrorCount int
	Errors     []ParseError

	// Role and Model are recovered from the transcript header when present,
	// so a continued session does not need the caller to restate them.
	Role  string
	Model string
}

// ParseTranscript reads a JSONL transcript file from disk. The session
// handle is derived from the file name.
func ParseTranscript(path string) (*ParseResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer file.Close()

	handle := Handle(strings.TrimSuffix(filepath.Base(path), ".jsonl"))
	result := &ParseResult{
		Transcript: &Transcript{Handle: handle, Turns: make([]Turn, 0)},
		Errors:     make([]ParseError, 0),
	}

	scanner := bufio.NewScanner(file)
	const maxScanTokenSize = 10 * 1024 * 1024
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var tl transcriptLine
		if err := json.Unmarshal([]byte(line), &tl); err != nil {
			result.ErrorCount++
			if len(result.Errors) < 10 {
				result.Errors = append(result.Errors, ParseError{
					Line:  lineNum,
					Error: fmt.Sprintf("JSON parse error: %v", err),
				})
			}
			continue
		}

		switch tl.Type {
		case "session":
			// Header line written at dispatch time.
			result.Role = tl.Agent
			result.Model = tl.Model
		case "turn":
			turn, err := parseTurn(tl)
			if err != nil {
				result.ErrorCount++
				if len(result.Errors) < 10 {
					result.Errors = append(result.Errors, ParseError{
						Line:  lineNum,
						Error: fmt.Sprintf("turn parse error: %v", err),
					})
				}
				continue
			}
			if turn != nil {
				result.Transcript.Turns = append(result.Transcript.Turns, *turn)
			}
		case "finish":
			// Marks the preceding assistant turn as terminal.
			turns := result.Transcript.Turns
			for i := len(turns) - 1; i >= 0; i-- {
				if turns[i].Role == RoleAssistant {
					turns[i].Finished = true
					break
				}
			}
		default:
			// Unknown record types are skipped, not errors. Newer
			// platform versions add line types freely.
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning transcript: %w", err)
	}

	return result, nil
}

func parseTurn(tl transcriptLine) (*Turn, error) {
	if tl.Role != RoleUser && tl.Role != RoleAssistant {
		return nil, fmt.Errorf("unknown role %q", tl.Role)
	}

	var timestamp time.Time
	if tl.Timestamp != "" {
		var err error
		timestamp, err = time.Parse(time.RFC3339, tl.Timestamp)
		if err != nil {
			timestamp = time.Now()
		}
	}

	turn := &Turn{
		Role:      tl.Role,
		Text:      tl.Text,
		Timestamp: timestamp,
	}

	if len(tl.Tool) > 0 {
		var recs []toolRecord
		if err := json.Unmarshal(tl.Tool, &recs); err != nil {
			// Single tool record is also accepted.
			var rec toolRecord
			if err := json.Unmarshal(tl.Tool, &rec); err != nil {
				return nil, fmt.Errorf("tool record: %w", err)
			}
			recs = []toolRecord{rec}
		}
		for _, rec := range recs {
			tc := ToolCall{Name: rec.Name, Result: rec.Result}
			if len(rec.Input) > 0 {
				var inputMap map[string]interface{}
				if err := json.Unmarshal(rec.Input, &inputMap); err == nil {
					tc.Params = make(map[string]string, len(inputMap))
					for k, v := range inputMap {
						tc.Params[k] = fmt.Sprintf("%v", v)
					}
				}
			}
			turn.ToolCalls = append(turn.ToolCalls, tc)
		}
	}

	if turn.Text == "" && len(turn.ToolCalls) == 0 {
		return nil, nil
	}
	return turn, nil
}
