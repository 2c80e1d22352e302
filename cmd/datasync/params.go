package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// dictReplacer turns a single-quoted dict literal into JSON
var dictReplacer = strings.NewReplacer(
	"'", `"`,
	"None", "null",
	"True", "true",
	"False", "false",
)

// ParseParams parses interface parameters given on the command line.
// Both JSON ({"symbol": ".INX"}) and single-quoted dict style
// ({'symbol': '.INX', 'adjust': None}) are accepted. An empty string
// yields no parameters.
func ParseParams(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(s), &params); err == nil {
		return params, nil
	}

	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, fmt.Errorf("invalid params %q: expected a JSON object, e.g. '{\"symbol\": \".INX\"}'", s)
	}
	if err := json.Unmarshal([]byte(dictReplacer.Replace(s)), &params); err != nil {
		return nil, fmt.Errorf("invalid params %q: %w", s, err)
	}
	return params, nil
}
