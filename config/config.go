// Package config holds the tunable analysis policy, loaded from a TOML
// file. Anything not set in the file keeps its default.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// MultiloadThreshold is the minimum number of non-null pointer targets
	// required before a multi-target load is resolved against each target;
	// below it the load degrades to unknown. Single-target loads always
	// resolve. Raising the threshold past any realistic set width disables
	// multi-target forwarding.
	MultiloadThreshold int `toml:"multiload_threshold"`

	// MaxSetWidth caps the number of members a value set may accumulate
	// before it widens to unknown. Zero or negative means uncapped.
	MaxSetWidth int `toml:"max_set_width"`

	// MergeToBase commits a context's overlay into permanent stores after
	// a merge at an unconditionally reached, loop-free point.
	MergeToBase bool `toml:"merge_to_base"`
}

var defaultConfig = Config{
	MultiloadThreshold: 1,
	MaxSetWidth:        16,
	MergeToBase:        true,
}

// Default returns the built-in policy.
func Default() Config { return defaultConfig }

func parse(path string) (Config, error) {
	cfg := defaultConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	// Absent keys keep their defaults; unknown keys are rejected so typos
	// don't silently configure nothing.
	if undec := meta.Undecoded(); len(undec) > 0 {
		return Config{}, &UnknownKeyError{Key: undec[0].String()}
	}
	return cfg, nil
}

// Load reads a policy file. A missing file is not an error and yields the
// defaults.
func Load(path string) (Config, error) {
	cfg, err := parse(path)
	if os.IsNotExist(err) {
		return defaultConfig, nil
	}
	return cfg, err
}

// UnknownKeyError reports a key in the policy file that no option matches.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return "unknown configuration key " + e.Key
}
