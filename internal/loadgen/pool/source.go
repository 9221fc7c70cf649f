package pool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// LoadFile reads identifiers from a fixture file.
//
// Accepted formats:
//   - a JSON array of strings: ["id1", "id2"]
//   - a JSON object with an "ids" or "shiftIds" array
//   - plain text with one identifier per line (blank lines and # comments ignored)
func LoadFile(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identifier file: %w", err)
	}

	ids, err := ParseIdentifiers(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(ids)
}

// ParseIdentifiers decodes identifiers from fixture bytes. See LoadFile.
func ParseIdentifiers(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' || trimmed[0] == '{' {
		if !gjson.ValidBytes(trimmed) {
			return nil, fmt.Errorf("invalid JSON identifier fixture")
		}
		root := gjson.ParseBytes(trimmed)
		if root.IsObject() {
			root = root.Get("ids")
			if !root.Exists() {
				root = gjson.GetBytes(trimmed, "shiftIds")
			}
		}
		if !root.IsArray() {
			return nil, fmt.Errorf("identifier fixture must be an array or contain \"ids\"")
		}

		var ids []string
		var bad error
		root.ForEach(func(_, v gjson.Result) bool {
			if v.Type != gjson.String && v.Type != gjson.Number {
				bad = fmt.Errorf("identifier must be a string, got %s", v.Type)
				return false
			}
			ids = append(ids, v.String())
			return true
		})
		return ids, bad
	}

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}

// WriteFile writes ids as a {"shiftIds": [...]} fixture readable by LoadFile.
func WriteFile(path string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(struct {
		ShiftIDs []string `json:"shiftIds"`
	}{ids}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write identifier file: %w", err)
	}
	return nil
}
