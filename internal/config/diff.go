package config

import (
	"cmp"
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only the log level and phrase presets are applied at runtime; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PhrasesChanged bool
	PhraseChanges  []PhraseDiff // sorted by name

	// RestartRequired names the top-level sections that changed but only
	// take effect after a restart (e.g., "discord", "providers").
	RestartRequired []string
}

// PhraseDiff describes what changed for a single phrase preset.
type PhraseDiff struct {
	Name    string
	Added   bool
	Removed bool
	Changed bool
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PhrasesChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Phrases
	for _, name := range slices.Sorted(maps.Keys(old.Phrases)) {
		text, exists := new.Phrases[name]
		switch {
		case !exists:
			d.PhraseChanges = append(d.PhraseChanges, PhraseDiff{Name: name, Removed: true})
		case text != old.Phrases[name]:
			d.PhraseChanges = append(d.PhraseChanges, PhraseDiff{Name: name, Changed: true})
		}
	}
	for _, name := range slices.Sorted(maps.Keys(new.Phrases)) {
		if _, exists := old.Phrases[name]; !exists {
			d.PhraseChanges = append(d.PhraseChanges, PhraseDiff{Name: name, Added: true})
		}
	}
	slices.SortStableFunc(d.PhraseChanges, func(a, b PhraseDiff) int {
		return cmp.Compare(a.Name, b.Name)
	})
	d.PhrasesChanged = len(d.PhraseChanges) > 0

	// Sections that need a restart.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Discord, new.Discord) {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if !reflect.DeepEqual(old.Playback, new.Playback) {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}

	return d
}
