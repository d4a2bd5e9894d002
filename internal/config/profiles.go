package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ProfileSpec is one profile entry from a profiles file: which plugins
// it accepts allocation from, which allocation strategy to apply among
// its candidates, and how it recognizes a matching card.
type ProfileSpec struct {
	Name                 string   `mapstructure:"name"`
	Strategy             string   `mapstructure:"strategy"`
	Plugins              []string `mapstructure:"plugins"`
	ReaderNameRegex      string   `mapstructure:"reader_name_regex"`
	AID                  string   `mapstructure:"aid"`
	ReaderGroupReference string   `mapstructure:"reader_group_reference"`
}

// LoadProfileSpecs reads a YAML profiles file of the form:
//
//	profiles:
//	  - name: badge-readers
//	    strategy: cyclic
//	    plugins: [pcsc]
//	    aid: A000000291A0000000
//
// An empty path returns a nil slice with no error, letting callers
// fall back to a single default profile.
func LoadProfileSpecs(path string) ([]ProfileSpec, error) {
	if path == "" {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read profiles file: %w", err)
	}

	var wrapper struct {
		Profiles []ProfileSpec `mapstructure:"profiles"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return nil, fmt.Errorf("config: parse profiles file: %w", err)
	}
	return wrapper.Profiles, nil
}
