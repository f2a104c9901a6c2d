package logging

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Log file layout. The engine's text sink appends to service.log under
// $A2AENGINE_LOG_DIR; deployments that record model-provider traffic
// write requests.jsonl under $A2AENGINE_REQUEST_LOG_DIR. The index
// reads whichever of the four files exist and tolerates the rest being
// absent.
const (
	logDirEnvVar     = "A2AENGINE_LOG_DIR"
	requestLogEnvVar = "A2AENGINE_REQUEST_LOG_DIR"

	serviceLogFileName = "service.log"
	llmLogFileName     = "llm.log"
	latencyLogFileName = "latency.log"
	requestLogFileName = "requests.jsonl"
)

// LogIndexOptions pages through the aggregated index.
type LogIndexOptions struct {
	Limit  int
	Offset int
}

// LogIndexEntry aggregates every log line sharing one log_id across
// the service/llm/latency/request files: per-source line counts, the
// sorted set of sources that saw the id, and the newest timestamp
// (which orders the index).
type LogIndexEntry struct {
	LogID        string    `json:"log_id"`
	ServiceCount int       `json:"service_count"`
	LLMCount     int       `json:"llm_count"`
	LatencyCount int       `json:"latency_count"`
	RequestCount int       `json:"request_count"`
	TotalCount   int       `json:"total_count"`
	Sources      []string  `json:"sources"`
	LastSeen     time.Time `json:"last_seen"`
}

// FetchRecentLogIndex builds the per-log_id activity index served by
// the dev logs endpoint, newest first. Entries with fewer than three
// lines and no model-call or request activity are dropped as noise —
// they are almost always the index endpoint observing itself.
func FetchRecentLogIndex(opts LogIndexOptions) []LogIndexEntry {
	byID := make(map[string]*LogIndexEntry)
	sources := make(map[string]map[string]bool)

	record := func(logID, source string, ts time.Time) {
		entry, ok := byID[logID]
		if !ok {
			entry = &LogIndexEntry{LogID: logID}
			byID[logID] = entry
			sources[logID] = make(map[string]bool)
		}
		switch source {
		case "service":
			entry.ServiceCount++
		case "llm":
			entry.LLMCount++
		case "latency":
			entry.LatencyCount++
		case "requests":
			entry.RequestCount++
		}
		entry.TotalCount++
		sources[logID][source] = true
		if ts.After(entry.LastSeen) {
			entry.LastSeen = ts
		}
	}

	logDir := os.Getenv(logDirEnvVar)
	for _, f := range []struct{ name, source string }{
		{serviceLogFileName, "service"},
		{llmLogFileName, "llm"},
		{latencyLogFileName, "latency"},
	} {
		forEachLine(filepath.Join(logDir, f.name), func(line string) {
			entry := parseTextLogLine(line)
			if entry.LogID == "" {
				return
			}
			ts, err := time.ParseInLocation(textLogTimeLayout, entry.Timestamp, time.Local)
			if err != nil {
				return
			}
			record(entry.LogID, f.source, ts)
		})
	}

	forEachLine(filepath.Join(os.Getenv(requestLogEnvVar), requestLogFileName), func(line string) {
		entry, ok := parseRequestLogJSON(line)
		if !ok || entry.LogID == "" {
			return
		}
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil {
			return
		}
		record(entry.LogID, "requests", ts)
	})

	out := make([]LogIndexEntry, 0, len(byID))
	for id, entry := range byID {
		if entry.TotalCount <= 2 && entry.LLMCount == 0 && entry.RequestCount == 0 {
			continue
		}
		names := make([]string, 0, len(sources[id]))
		for s := range sources[id] {
			names = append(names, s)
		}
		sort.Strings(names)
		entry.Sources = names
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].LogID < out[j].LogID
	})

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// forEachLine streams path line by line, silently skipping a missing
// or unreadable file.
func forEachLine(path string, fn func(line string)) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fn(line)
		}
	}
}
