package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load reads, migrates and validates the application configuration.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Route.migrate()
	applyDefaults(&cfg)

	v := validator.New()
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	for _, slot := range cfg.Route.Slots {
		if err := v.Struct(slot); err != nil {
			return nil, err
		}
		if _, _, err := slot.window(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.TimeoutMS == 0 {
		cfg.TimeoutMS = 15000
	}
	if cfg.RefreshIntervalMS == 0 {
		cfg.RefreshIntervalMS = 600000
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	}
	if cfg.Route.MaxTrains == 0 {
		cfg.Route.MaxTrains = 5
	}
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return base + string(os.PathSeparator) + "departure-board"
}

// migrate wraps the legacy single-stop schema into one slot spanning
// the full day. Configurations that already carry slots are untouched.
func (r *RouteConfiguration) migrate() {
	if len(r.Slots) > 0 || r.LegacyStopID == "" {
		return
	}
	r.Slots = []RouteSlot{{
		ID:                "all-day",
		Start:             "00:00",
		End:               "24:00",
		DepartureStopID:   r.LegacyStopID,
		DepartureStopName: r.LegacyStopName,
		DirectionID:       r.LegacyDirectionID,
	}}
	r.LegacyStopID = ""
	r.LegacyStopName = ""
	r.LegacyDirectionID = 0
}
