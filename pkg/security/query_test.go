package security

import (
	"testing"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

func TestValidateReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"select", "SELECT * FROM prices WHERE day = :day", false},
		{"trailing semicolon", "select id, price from prices;", false},
		{"cte", "WITH last AS (SELECT max(day) d FROM prices) SELECT * FROM prices, last WHERE day = last.d", false},
		{"column named like keyword", "SELECT deleted_at, updated_by FROM prices", false},
		{"keyword inside literal", "SELECT * FROM log WHERE msg = 'DROP TABLE x; --'", false},
		{"quoted identifier", `SELECT "update" FROM events`, false},
		{"empty", "   ", true},
		{"insert", "INSERT INTO prices VALUES (1)", true},
		{"delete in cte", "WITH d AS (DELETE FROM prices RETURNING *) SELECT * FROM d", true},
		{"select into", "SELECT * INTO backup FROM prices", true},
		{"two statements", "SELECT 1; DROP TABLE prices", true},
		{"line comment", "SELECT * FROM prices -- where day = 1", true},
		{"block comment", "SELECT /* hint */ * FROM prices", true},
		{"pragma", "PRAGMA table_info(prices)", true},
		{"exec", "EXEC sp_who", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReadOnly(tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateReadOnly(%q) error = %v, wantErr %v", tt.query, err, tt.wantErr)
			}
			if err != nil && syncerr.KindOf(err) != syncerr.KindConfiguration {
				t.Errorf("kind = %v, want configuration", syncerr.KindOf(err))
			}
		})
	}
}

func TestStripQuoted(t *testing.T) {
	got := stripQuoted(`a 'b;c' "d" [e f] g`)
	want := `a '   ' " " [   ] g`
	if got != want {
		t.Errorf("stripQuoted = %q, want %q", got, want)
	}
}
