package logging

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// textLogTimeLayout is the timestamp prefix of every text log line.
const textLogTimeLayout = "2006-01-02 15:04:05"

// TextLogEntry is one parsed line of the engine's text log files
// (service/llm/latency). Lines look like
//
//	2026-02-08 01:11:57 [INFO] [SERVICE] [Handler] [log_id=log-abc] adapter.go:196 - received request
//
// where the [log_id=...] segment and the source file:line prefix are
// both optional. A line that does not match the format at all comes
// back with only Raw and Message set (Message equals the raw line), so
// the index still counts it toward whatever file it came from without
// inventing structure.
type TextLogEntry struct {
	Raw        string `json:"raw"`
	Timestamp  string `json:"timestamp,omitempty"`
	Level      string `json:"level,omitempty"`
	Category   string `json:"category,omitempty"`
	Component  string `json:"component,omitempty"`
	LogID      string `json:"log_id,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
	SourceLine int    `json:"source_line,omitempty"`
	Message    string `json:"message"`
}

// parseTextLogLine parses one text log line. It never fails: an
// unparseable line is returned with Message set to the raw line.
func parseTextLogLine(line string) TextLogEntry {
	entry := TextLogEntry{Raw: line, Message: line}

	if len(line) < len(textLogTimeLayout)+1 {
		return entry
	}
	ts := line[:len(textLogTimeLayout)]
	if _, err := time.ParseInLocation(textLogTimeLayout, ts, time.Local); err != nil {
		return entry
	}
	rest := strings.TrimPrefix(line[len(textLogTimeLayout):], " ")

	var brackets []string
	for strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return entry
		}
		brackets = append(brackets, rest[1:end])
		rest = strings.TrimPrefix(rest[end+1:], " ")
	}
	if len(brackets) < 3 {
		return entry
	}

	entry.Timestamp = ts
	entry.Level = brackets[0]
	entry.Category = brackets[1]
	entry.Component = brackets[2]
	for _, b := range brackets[3:] {
		if id, ok := strings.CutPrefix(b, "log_id="); ok {
			entry.LogID = id
		}
	}

	entry.Message = rest
	if sep := strings.Index(rest, " - "); sep >= 0 {
		if file, lineNo, ok := parseSourceLocation(rest[:sep]); ok {
			entry.SourceFile = file
			entry.SourceLine = lineNo
			entry.Message = rest[sep+len(" - "):]
		}
	}
	return entry
}

// parseSourceLocation recognizes a "file.go:123" prefix.
func parseSourceLocation(loc string) (string, int, bool) {
	colon := strings.LastIndex(loc, ":")
	if colon <= 0 || !strings.HasSuffix(loc[:colon], ".go") {
		return "", 0, false
	}
	n, err := strconv.Atoi(loc[colon+1:])
	if err != nil {
		return "", 0, false
	}
	return loc[:colon], n, true
}

// RequestLogEntry is one parsed line of the request log: a JSONL file
// recording each outbound model-provider request/response pair with
// its correlation ids and payload.
type RequestLogEntry struct {
	Raw       string          `json:"raw"`
	Timestamp string          `json:"timestamp"`
	RequestID string          `json:"request_id"`
	LogID     string          `json:"log_id"`
	EntryType string          `json:"entry_type"`
	BodyBytes int             `json:"body_bytes"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// parseRequestLogJSON parses one request-log line. A missing log_id is
// derived from the request_id's "<log_id>:<seq>" shape, matching how
// the writer composes request ids.
func parseRequestLogJSON(raw string) (RequestLogEntry, bool) {
	if strings.TrimSpace(raw) == "" {
		return RequestLogEntry{}, false
	}
	var entry RequestLogEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return RequestLogEntry{}, false
	}
	entry.Raw = raw
	if entry.LogID == "" {
		if prefix, _, ok := strings.Cut(entry.RequestID, ":"); ok {
			entry.LogID = prefix
		}
	}
	if string(entry.Payload) == "null" {
		entry.Payload = nil
	}
	return entry, true
}
