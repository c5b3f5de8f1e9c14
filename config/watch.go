package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with the re-validated configuration each time the
// file is written. Invalid edits are reported through err and the previous
// configuration stays in effect for the caller to decide. Only settings
// that components can change at runtime, such as the batch limits, should
// be applied.
func (l *Loader) Watch(onChange func(cfg *Config, err error)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}
