package battle

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

//go:embed tariff.yaml
var defaultTariff embed.FS

// Tariff is the monetary policy of the coordinator: platform fee on a decided
// winner and the cancellation penalty schedule by battle stage. Percentages of
// the per-player stake (fee: of the total pot), integer math, rounded down.
type Tariff struct {
	FeePercent int `yaml:"fee_percent"`
	Penalty    struct {
		WaitingPercent    int `yaml:"waiting_percent"`
		InProgressPercent int `yaml:"inprogress_percent"`
	} `yaml:"penalty"`
}

// LoadTariff reads the embedded defaults and then applies the override file if
// path is non-empty.
func LoadTariff(path string) (*Tariff, error) {
	raw, err := fs.ReadFile(defaultTariff, "tariff.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded tariff: %w", err)
	}
	var t Tariff
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse embedded tariff: %w", err)
	}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tariff override: %w", err)
		}
		if err := yaml.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("parse tariff override: %w", err)
		}
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Tariff) validate() error {
	for _, p := range []int{t.FeePercent, t.Penalty.WaitingPercent, t.Penalty.InProgressPercent} {
		if p < 0 || p > 100 {
			return fmt.Errorf("tariff percentage out of range: %d", p)
		}
	}
	return nil
}

// Fee returns the platform cut of the total pot for a decided winner.
func (t *Tariff) Fee(stake int64) int64 {
	return 2 * stake * int64(t.FeePercent) / 100
}

// PenaltyFor returns the cancellation penalty deducted from the caller's stake
// at the given stage. Stages without an opponent carry no penalty.
func (t *Tariff) PenaltyFor(status Status, stake int64) int64 {
	switch status {
	case StatusWaitingReady:
		return stake * int64(t.Penalty.WaitingPercent) / 100
	case StatusInProgress:
		return stake * int64(t.Penalty.InProgressPercent) / 100
	default:
		return 0
	}
}
