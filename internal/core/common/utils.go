package common

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON cleans and unmarshals a JSON string into a type T.
// It handles common LLM quirks like surrounding markdown or extra text.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	jsonStr, ok := span(response, '{', '}')
	if !ok {
		return zero, fmt.Errorf("no JSON object found in response (missing '{')")
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, jsonStr)
	}

	return result, nil
}

// ParseJSONList accepts either a JSON array of T or a single T object.
func ParseJSONList[T any](response string) ([]T, error) {
	trimmed := strings.TrimSpace(response)
	arrStart := strings.IndexByte(trimmed, '[')
	objStart := strings.IndexByte(trimmed, '{')

	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		if jsonStr, ok := span(trimmed, '[', ']'); ok {
			var list []T
			if err := json.Unmarshal([]byte(jsonStr), &list); err == nil {
				return list, nil
			}
		}
	}

	one, err := ParseJSON[T](trimmed)
	if err != nil {
		return nil, err
	}
	return []T{one}, nil
}

// span returns the text between the first open and the last close rune.
func span(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
