package payload

import (
	"log/slog"

	"simtracker/internal/simulation"
)

// Built-in simulation type keys.
const (
	KeyCountdown     = "countdown"
	KeyCustomControl = "custom_control"
	KeyContainer     = "container"
)

// Options selects which built-in types Register installs.
type Options struct {
	// Runtime enables the container type when non-nil.
	Runtime ContainerRuntime
	// Defaults overrides the built-in default config per key, typically from a catalogue.
	Defaults map[string]simulation.Config
}

func builtinDefaults() map[string]simulation.Config {
	return map[string]simulation.Config{
		KeyCountdown: {
			Name:   "Countdown",
			Family: "examples",
			Params: map[string]any{"ticks": 10, "interval": 0.1},
		},
		KeyCustomControl: {
			Name:   "Custom control",
			Family: "examples",
			Params: map[string]any{"poll_period": 0.5, "total_runtime": 30, "pause_points": []any{}},
		},
		KeyContainer: {
			Name:   "Container",
			Family: "containers",
			Params: map[string]any{"image": "busybox:latest", "command": "sleep 5"},
		},
	}
}

// Register installs the built-in simulation types and returns the keys added.
func Register(r *simulation.Registry, opts Options) []string {
	factories := map[string]simulation.Factory{
		KeyCountdown:     NewCountdown,
		KeyCustomControl: NewCustomControl,
	}
	if opts.Runtime != nil {
		factories[KeyContainer] = ContainerFactory(opts.Runtime)
	}

	defaults := builtinDefaults()
	for key, cfg := range opts.Defaults {
		if _, builtin := factories[key]; !builtin {
			slog.Warn("Catalogue entry has no simulation type, ignoring", "key", key)
			continue
		}
		defaults[key] = cfg
	}

	var added []string
	for _, key := range []string{KeyCountdown, KeyCustomControl, KeyContainer} {
		factory, ok := factories[key]
		if !ok {
			continue
		}
		cfg := defaults[key]
		if r.Register(key, factory, &cfg) {
			added = append(added, key)
		}
	}
	return added
}
