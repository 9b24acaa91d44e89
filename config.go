package imagefs

import (
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// TimezoneMode selects how a concrete FileSystem interprets the on-disk
// timestamps it reads, and which zone it stamps onto timestamps it writes.
// Spec.md §5's "Configuration" item.
type TimezoneMode int

const (
	// TimezoneLocal interprets on-disk timestamps as being in the host's
	// local time zone. This is FAT's traditional behavior: the format has
	// no zone offset field at all, so "local" is the only meaning that
	// doesn't require outside information.
	TimezoneLocal TimezoneMode = iota
	// TimezoneUTC interprets on-disk timestamps as already being UTC.
	TimezoneUTC
	// TimezoneExplicit interprets on-disk timestamps as being in
	// Config.Location.
	TimezoneExplicit
)

// Config configures how a concrete engine opens an image: the time zone to
// apply to naive on-disk timestamps, the OEM code page for FAT short names,
// and whether to treat the underlying Device as read-only regardless of
// what it reports.
type Config struct {
	Timezone TimezoneMode
	// Location is only consulted when Timezone is TimezoneExplicit.
	Location *time.Location
	// OEMEncoding decodes FAT 8.3 short names into display names. Short
	// names are written as their packed bytes without passing through it,
	// and the volume label is read and written as raw bytes. Defaults to
	// IBM Code Page 437, the historical default for DOS and the value
	// spec.md §5 names explicitly.
	OEMEncoding encoding.Encoding
	// ReadOnlyHint forces CanWrite() to false even if the backing Device
	// would otherwise permit writes.
	ReadOnlyHint bool
}

// DefaultConfig returns the Config every engine uses when the caller passes
// nil: local time zone interpretation and IBM code page 437.
func DefaultConfig() *Config {
	return &Config{
		Timezone:    TimezoneLocal,
		OEMEncoding: charmap.CodePage437,
	}
}

// Resolve fills in the zero-value fields of cfg with DefaultConfig's
// values, returning a config that is always safe to dereference and use.
func (cfg *Config) Resolve() *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	resolved := *cfg
	if resolved.OEMEncoding == nil {
		resolved.OEMEncoding = charmap.CodePage437
	}
	if resolved.Timezone == TimezoneExplicit && resolved.Location == nil {
		resolved.Timezone = TimezoneUTC
	}
	return &resolved
}

// locationOrDefault returns the time.Location this config's Timezone mode resolves
// to, for converting a naive on-disk timestamp into an absolute time.Time.
func (cfg *Config) locationOrDefault() *time.Location {
	switch cfg.Timezone {
	case TimezoneUTC:
		return time.UTC
	case TimezoneExplicit:
		return cfg.Location
	default:
		return time.Local
	}
}

// LocationFor is the exported form of locationOrDefault used by concrete
// engines when decoding on-disk timestamps.
func (cfg *Config) LocationFor() *time.Location {
	return cfg.Resolve().locationOrDefault()
}
