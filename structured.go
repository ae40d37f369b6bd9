package cachegate

import (
	"bytes"
	"encoding/json"
	"strings"
)

// structuredFrame is the self-describing inbound object form: the same
// fields the text form carries positionally, spelled out for a
// JSON-speaking client.
type structuredFrame struct {
	RequestID string   `json:"requestId"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
}

func parseStructured(raw []byte) (ParseResult, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ParseResult{}, false
	}
	var sf structuredFrame
	if err := json.Unmarshal(trimmed, &sf); err != nil {
		return ParseResult{}, false
	}
	if sf.Command == "" {
		return ParseResult{}, false
	}
	name := strings.ToUpper(sf.Command)
	if !textCommands[name] {
		return ParseResult{RequestID: firstNonEmpty(sf.RequestID, "0"), Err: badArgs("unknown command " + sf.Command)}, true
	}
	cmd, err := buildCommand(sf.RequestID, name, sf.Args)
	return ParseResult{RequestID: sf.RequestID, Cmd: cmd, Err: err}, true
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
