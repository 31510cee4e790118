package battle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTariff(t *testing.T) {
	tf, err := LoadTariff("")
	if err != nil {
		t.Fatalf("LoadTariff: %v", err)
	}
	if tf.FeePercent != 5 || tf.Penalty.WaitingPercent != 10 || tf.Penalty.InProgressPercent != 25 {
		t.Fatalf("unexpected defaults: %+v", tf)
	}
	if got := tf.Fee(100); got != 10 {
		t.Fatalf("Fee(100): want 10 got %d", got)
	}
	if got := tf.PenaltyFor(StatusWaitingReady, 100); got != 10 {
		t.Fatalf("waiting penalty: want 10 got %d", got)
	}
	if got := tf.PenaltyFor(StatusInProgress, 100); got != 25 {
		t.Fatalf("inprogress penalty: want 25 got %d", got)
	}
	if got := tf.PenaltyFor(StatusCreated, 100); got != 0 {
		t.Fatalf("pre-join penalty must be zero, got %d", got)
	}
}

func TestTariffIntegerRounding(t *testing.T) {
	tf, _ := LoadTariff("")
	// 2*33*5/100 = 3.3 rounds down
	if got := tf.Fee(33); got != 3 {
		t.Fatalf("Fee(33): want 3 got %d", got)
	}
	if got := tf.PenaltyFor(StatusInProgress, 7); got != 1 {
		t.Fatalf("PenaltyFor(7): want 1 got %d", got)
	}
}

func TestTariffOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tariff.yaml")
	if err := os.WriteFile(path, []byte("fee_percent: 8\n"), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	tf, err := LoadTariff(path)
	if err != nil {
		t.Fatalf("LoadTariff: %v", err)
	}
	// overridden field applies, the rest keeps the defaults
	if tf.FeePercent != 8 || tf.Penalty.WaitingPercent != 10 {
		t.Fatalf("override not layered: %+v", tf)
	}
}

func TestTariffRejectsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tariff.yaml")
	if err := os.WriteFile(path, []byte("fee_percent: 120\n"), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	if _, err := LoadTariff(path); err == nil {
		t.Fatalf("expected validation error for 120%%")
	}
}
