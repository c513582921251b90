// Package config reads the JSON configuration file of the holesdetection command.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/perimeterx/marshmallow"
	"golang.org/x/exp/maps"
)

// Config holds everything needed for one run.
// Source and Target are only required after flags have been merged in, see Validate.
type Config struct {
	Source    string `json:"source"`
	Target    string `json:"target" validate:"omitempty,nefield=Source"`
	Overwrite bool   `json:"overwrite" default:"true"`
	PageSize  int    `json:"pageSize" default:"1000" validate:"min=1"`
}

// Default is the configuration used when no file is given
func Default() Config {
	var c Config
	// only fails for unsupported tag values
	_ = defaults.Set(&c)
	return c
}

// Load reads a config file. Unknown keys are an error.
func Load(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) UnmarshalJSON(data []byte) error {
	err := defaults.Set(c)
	if err != nil {
		return err
	}

	unknown, err := marshmallow.Unmarshal(data, c, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		keys := maps.Keys(unknown)
		slices.Sort(keys)
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// Validate checks a complete configuration
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Var(c.Source, "required"); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := validate.Var(c.Target, "required"); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return validate.Struct(c)
}
