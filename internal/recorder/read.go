package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLine bounds a single transcript line.
const maxLine = 4 << 20

// Read parses a transcript written by a Recorder.
func Read(r io.Reader) (Header, []Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var header Header
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return header, nil, fmt.Errorf("failed to read header: %w", err)
		}
		return header, nil, errors.New("empty transcript")
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return header, nil, fmt.Errorf("failed to parse header: %w", err)
	}
	if header.Version != 2 {
		return header, nil, fmt.Errorf("unsupported transcript version %d", header.Version)
	}

	var events []Event
	line := 1
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return header, events, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return header, events, fmt.Errorf("failed to read transcript: %w", err)
	}
	return header, events, nil
}
