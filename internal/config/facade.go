// Package config implements the configuration/stream-resolution façade
// (§4.9): the server core's only window into operator-supplied stream and
// listener settings, kept here as a small interface so the demo binary's
// StaticFacade can be swapped for a real config-file reader without
// touching clientadapter or server.
package config

import (
	"strings"
	"sync"
)

// BufferingDiscard drops the oldest frame when a resource's delivery queue
// is full; BufferingOverwrite drops the newest. "queue"/"ring" are legacy
// aliases accepted for the same two policies.
const (
	BufferingDiscard   = "discard"
	BufferingOverwrite = "overwrite"
)

// NormalizeBufferingPolicy maps the legacy "queue"/"ring" spellings onto
// their current names, leaving any other value untouched.
func NormalizeBufferingPolicy(policy string) string {
	switch policy {
	case "queue":
		return BufferingDiscard
	case "ring":
		return BufferingOverwrite
	default:
		return policy
	}
}

// OpenStreamSetting is what stream_setting_for resolves to: the knobs a
// client adapter needs to call core.OpenStream and configure delivery.
type OpenStreamSetting struct {
	BufferingPolicy string
	BufferNum       int
	Arguments       map[string]string
}

// ListenerEntry describes one address pair a listener binds: a primary
// address (required) and an optional secondary egress address used for the
// primary/secondary pairing in §4.8.
type ListenerEntry struct {
	ConnectionKey    string
	PrimaryAddress   string
	SecondaryAddress string
	HasSecondaryAddr bool
}

// Facade is the four lookups §4.9 specifies the core consumes from the
// configuration manager.
type Facade interface {
	IsClientEnabled() bool
	ListenerList() []ListenerEntry
	// StreamSetting resolves settings for streamKey as seen over a
	// connection identified by connectionKey, per the 5-step precedence in
	// §4.9. The bool reports whether any setting (including a suffix
	// match) was found.
	StreamSetting(streamKey, connectionKey string) (OpenStreamSetting, bool)
	// VerifySupportedStreams returns one warning string per configured
	// stream key that is not a suffix of any key in catalog.
	VerifySupportedStreams(catalog map[string]string) []string
}

// configuredEntry is one operator-supplied stream configuration, keyed by
// the (streamKey, connectionKey) pair it was declared under. Empty string
// means "default" for either dimension, per §4.9.
type configuredEntry struct {
	streamKey     string
	connectionKey string
	setting       OpenStreamSetting
}

// StaticFacade is a plain in-memory Facade, built once at startup from a
// parsed config source (LoadViper, or direct construction in tests) —
// grounded on the teacher's Config.applyDefaults pattern: a flat struct
// with an ordered slice of entries, no dynamic reload.
type StaticFacade struct {
	mu        sync.RWMutex
	clientOn  bool
	listeners []ListenerEntry
	// entries preserves insertion (= configuration file) order, required
	// for the suffix-match "first-found-wins" rule in §4.9 step 5.
	entries []configuredEntry
}

// NewStaticFacade builds an empty StaticFacade; use AddStreamSetting/
// AddListener to populate it, or LoadViper to hydrate from a file.
func NewStaticFacade(clientEnabled bool) *StaticFacade {
	return &StaticFacade{clientOn: clientEnabled}
}

// AddListener appends a listener entry.
func (f *StaticFacade) AddListener(entry ListenerEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, entry)
}

// AddStreamSetting registers a configured stream setting for
// (streamKey, connectionKey); pass "" for either to mean "default". Entries
// are tried in the order they were added when a suffix match is needed.
func (f *StaticFacade) AddStreamSetting(streamKey, connectionKey string, setting OpenStreamSetting) {
	f.mu.Lock()
	defer f.mu.Unlock()
	setting.BufferingPolicy = NormalizeBufferingPolicy(setting.BufferingPolicy)
	f.entries = append(f.entries, configuredEntry{streamKey: streamKey, connectionKey: connectionKey, setting: setting})
}

func (f *StaticFacade) IsClientEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.clientOn
}

func (f *StaticFacade) ListenerList() []ListenerEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ListenerEntry, len(f.listeners))
	copy(out, f.listeners)
	return out
}

// StreamSetting implements the 5-step precedence from §4.9. Steps 1-4 are
// exact lookups over the two-valued (stream, connection) grid; step 5 is a
// suffix match over stream_key only, tried in configuration order and
// using the first hit regardless of how long the matched suffix is — per
// the Open Question resolution recorded in DESIGN.md, suffix matching here
// never also tries a specific connectionKey beyond an exact one.
func (f *StaticFacade) StreamSetting(streamKey, connectionKey string) (OpenStreamSetting, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	lookups := []struct{ stream, conn string }{
		{streamKey, connectionKey},
		{streamKey, ""},
		{"", connectionKey},
		{"", ""},
	}
	for _, l := range lookups {
		for _, e := range f.entries {
			if e.streamKey == l.stream && e.connectionKey == l.conn {
				return e.setting, true
			}
		}
	}

	for _, e := range f.entries {
		if e.streamKey == "" {
			continue // already covered by the exact-default lookups above
		}
		if strings.HasSuffix(streamKey, e.streamKey) {
			return e.setting, true
		}
	}
	return OpenStreamSetting{}, false
}

// VerifySupportedStreams warns about every configured stream key that does
// not appear as a suffix of any catalog key (catalog: stream_key -> type).
func (f *StaticFacade) VerifySupportedStreams(catalog map[string]string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seen := make(map[string]bool)
	var warnings []string
	for _, e := range f.entries {
		if e.streamKey == "" || seen[e.streamKey] {
			continue
		}
		seen[e.streamKey] = true
		matched := false
		for catalogKey := range catalog {
			if strings.HasSuffix(catalogKey, e.streamKey) {
				matched = true
				break
			}
		}
		if !matched {
			warnings = append(warnings, "configured stream key "+e.streamKey+" does not match any catalog stream")
		}
	}
	return warnings
}
