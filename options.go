package ormresource

import (
	"fmt"
	"maps"
	"slices"
)

// Option keys accepted by ParseOptions.
const (
	OptionTimestampable = "timestampable"
	OptionSluggable     = "sluggable"
	OptionTree          = "tree"
	OptionProfile       = "profile"
	OptionBibPlatform   = "bibplatform"
)

// Options selects the behaviours of the entity manager built by a
// Resource.
type Options struct {
	// Timestampable registers the timestampable listener.
	Timestampable bool
	// Sluggable registers the sluggable listener.
	Sluggable bool
	// Tree registers the nested set tree listener.
	Tree bool
	// Profile echoes every SQL statement and collects query statistics.
	Profile bool
	// BibPlatform uses the MySQL platform without foreign keys.
	BibPlatform bool
}

// ParseOptions converts an option map. Keys left out are false; unknown
// keys and values that are not booleans are rejected.
func ParseOptions(m map[string]any) (Options, error) {
	var o Options
	for _, k := range slices.Sorted(maps.Keys(m)) {
		p := o.field(k)
		if p == nil {
			return Options{}, invalidArgument("options", fmt.Sprintf("unsupported option %q", k), nil)
		}
		b, ok := m[k].(bool)
		if !ok {
			return Options{}, invalidArgument("options", fmt.Sprintf("value for %q must be true or false, got %T", k, m[k]), nil)
		}
		*p = b
	}
	return o, nil
}

// Map returns all five options by key.
func (o Options) Map() map[string]bool {
	return map[string]bool{
		OptionTimestampable: o.Timestampable,
		OptionSluggable:     o.Sluggable,
		OptionTree:          o.Tree,
		OptionProfile:       o.Profile,
		OptionBibPlatform:   o.BibPlatform,
	}
}

func (o *Options) field(key string) *bool {
	switch key {
	case OptionTimestampable:
		return &o.Timestampable
	case OptionSluggable:
		return &o.Sluggable
	case OptionTree:
		return &o.Tree
	case OptionProfile:
		return &o.Profile
	case OptionBibPlatform:
		return &o.BibPlatform
	}
	return nil
}
