package sync

import "testing"

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Path != DefaultStatePath || !cfg.AutoSave || cfg.SkipUnchanged {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	bad := Config{SkipUnchanged: true, AutoSave: true}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for auto_save without path")
	}
}
