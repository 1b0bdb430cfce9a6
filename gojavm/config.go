package gojavm

import (
	"github.com/go-playground/validator/v10"

	"github.com/wippyai/jsbridge/errors"
)

// validate is shared; validator caches struct metadata.
var validate = validator.New()

const (
	// DefaultMaxStringLength is the longest string, in bytes, NewStringLen
	// accepts before throwing a RangeError.
	DefaultMaxStringLength = 1<<30 - 1

	// DefaultProgramCacheSize is the number of compiled scripts kept.
	DefaultProgramCacheSize = 128
)

// Config configures an Engine. A nil *Config selects the defaults.
type Config struct {
	// MaxStringLength bounds NewStringLen input. Zero means the default.
	MaxStringLength int `validate:"gte=0,lte=1073741823"`

	// ProgramCacheSize is the LRU capacity for compiled scripts. Zero means
	// the default; negative disables caching.
	ProgramCacheSize int `validate:"gte=-1,lte=65536"`

	// MaxCallStackSize limits JavaScript recursion depth. Zero keeps goja's
	// default.
	MaxCallStackSize int `validate:"gte=0"`
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.MaxStringLength == 0 {
		out.MaxStringLength = DefaultMaxStringLength
	}
	if out.ProgramCacheSize == 0 {
		out.ProgramCacheSize = DefaultProgramCacheSize
	}
	return out
}

func (c Config) check() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "invalid gojavm config")
	}
	return nil
}
