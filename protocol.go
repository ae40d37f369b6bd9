package cachegate

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cachegate/cachegate/wire"
)

// Separator is the two-byte frame delimiter every inbound and outbound
// frame ends with.
const Separator = "\r\n"

const MaxFrameSize = 1 << 16

// ErrFrameTooLarge is returned when a client sends a frame larger than
// MaxFrameSize without a Separator.
var ErrFrameTooLarge = errors.New("frame exceeds max size")

var textCommands = map[string]bool{
	"CREATE": true, "ADD": true, "READ": true, "UPDATE": true,
	"DELETE": true, "MEM": true, "FLUSHALL": true, "SUB": true, "UNSUB": true,
}

// ParseResult is what decoding one inbound frame produces: at minimum a
// best-effort request id (used to shape the eventual error response even
// when nothing else could be recovered), and either a command or an error.
type ParseResult struct {
	RequestID string
	Cmd       wire.Command
	Err       error
}

// DecodeFrame tries the text form first, then the structured (JSON) form:
// a reader accepts whichever form the bytes parse as. If neither parses at
// all, RequestID is "0".
func DecodeFrame(raw []byte) ParseResult {
	if r, ok := parseText(raw); ok {
		return r
	}
	if r, ok := parseStructured(raw); ok {
		return r
	}
	return ParseResult{RequestID: "0", Err: badArgs("could not parse frame")}
}

// parseText recognizes "<requestId> <COMMAND> <args...>". ok is false only
// when the bytes do not even look like a text frame (too few tokens, or an
// unrecognized command name) — callers then try the structured parser
// instead of surfacing a bad-args error prematurely.
func parseText(raw []byte) (ParseResult, bool) {
	fields := strings.Fields(string(raw))
	if len(fields) < 2 {
		return ParseResult{}, false
	}
	reqID := fields[0]
	name := strings.ToUpper(fields[1])
	if !textCommands[name] {
		return ParseResult{}, false
	}
	cmd, err := buildCommand(reqID, name, fields[2:])
	return ParseResult{RequestID: reqID, Cmd: cmd, Err: err}, true
}

func buildCommand(reqID, name string, args []string) (wire.Command, error) {
	switch name {
	case "CREATE":
		if len(args) != 2 {
			return nil, badArgs("CREATE requires key and value")
		}
		return wire.NewCreate(reqID, args[0], args[1]), nil
	case "ADD":
		if len(args) != 3 {
			return nil, badArgs("ADD requires key, value and ttl")
		}
		ttl, err := parseTTL(args[2])
		if err != nil {
			return nil, err
		}
		return wire.NewAdd(reqID, args[0], args[1], ttl), nil
	case "READ":
		if len(args) != 1 {
			return nil, badArgs("READ requires key")
		}
		return wire.NewRead(reqID, args[0]), nil
	case "UPDATE":
		if len(args) != 2 && len(args) != 3 {
			return nil, badArgs("UPDATE requires key, value and optional ttl")
		}
		hasTTL := len(args) == 3
		var ttl int64
		if hasTTL {
			var err error
			ttl, err = parseTTL(args[2])
			if err != nil {
				return nil, err
			}
		}
		return wire.NewUpdate(reqID, args[0], args[1], hasTTL, ttl), nil
	case "DELETE":
		if len(args) != 1 {
			return nil, badArgs("DELETE requires key")
		}
		return wire.NewDelete(reqID, args[0]), nil
	case "MEM":
		if len(args) != 0 {
			return nil, badArgs("MEM takes no arguments")
		}
		return wire.NewMem(reqID), nil
	case "FLUSHALL":
		if len(args) != 0 {
			return nil, badArgs("FLUSHALL takes no arguments")
		}
		return wire.NewFlushAll(reqID), nil
	case "SUB":
		if len(args) != 1 {
			return nil, badArgs("SUB requires an event kind")
		}
		kind, ok := wire.ParseEventKind(args[0])
		if !ok {
			return nil, badKind("unknown event kind " + args[0])
		}
		return wire.NewSub(reqID, kind), nil
	case "UNSUB":
		if len(args) != 1 {
			return nil, badArgs("UNSUB requires an event kind")
		}
		kind, ok := wire.ParseEventKind(args[0])
		if !ok {
			return nil, badKind("unknown event kind " + args[0])
		}
		return wire.NewUnsub(reqID, kind), nil
	default:
		return nil, badArgs("unknown command " + name)
	}
}

func parseTTL(s string) (int64, error) {
	ttl, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ttl < 0 {
		return 0, badArgs("ttl must be a non-negative integer")
	}
	return ttl, nil
}
