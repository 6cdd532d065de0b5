package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watch loads configPath and reloads it whenever the file changes. onChange
// receives every successfully decoded and validated revision; revisions that
// fail are passed to onError and the previous configuration stays in effect.
// Parameters:
//   - configPath: config file to watch; must name an existing file.
//   - onChange: called with each new configuration.
//   - onError: called when a changed file cannot be used; may be nil.
//
// Returns:
//   - *Config: the initial configuration.
//   - error: non-nil if the initial load fails.
func Watch(configPath string, onChange func(*Config), onError func(error)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}
