package main

import (
	"testing"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", input: "  ", want: nil},
		{name: "json", input: `{"symbol": ".INX", "days": 5}`, want: map[string]any{"symbol": ".INX", "days": float64(5)}},
		{name: "single quoted dict", input: `{'symbol': '.INX', 'adjust': None}`, want: map[string]any{"symbol": ".INX", "adjust": nil}},
		{name: "python booleans", input: `{'full': True, 'cached': False}`, want: map[string]any{"full": true, "cached": false}},
		{name: "not an object", input: `[1, 2]`, wantErr: true},
		{name: "plain text", input: `symbol=.INX`, wantErr: true},
		{name: "broken dict", input: `{'symbol': }`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseParams(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseParams(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for k, v := range tt.want {
				if gv, ok := got[k]; !ok || gv != v {
					t.Errorf("param %s = %v, want %v", k, gv, v)
				}
			}
		})
	}
}
