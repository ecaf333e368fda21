package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// fileListener and fileStreamSetting mirror the shape LoadViper expects in
// a config file (JSON/YAML/TOML, whatever viper's file reader detects from
// the extension).
type fileListener struct {
	ConnectionKey    string `mapstructure:"connection_key"`
	PrimaryAddress   string `mapstructure:"primary_address"`
	SecondaryAddress string `mapstructure:"secondary_address"`
}

type fileStreamSetting struct {
	StreamKey       string            `mapstructure:"stream_key"`
	ConnectionKey   string            `mapstructure:"connection_key"`
	BufferingPolicy string            `mapstructure:"buffering_policy"`
	BufferNum       int               `mapstructure:"buffer_num"`
	Arguments       map[string]string `mapstructure:"arguments"`
}

type fileConfig struct {
	ClientEnabled  bool                `mapstructure:"client_enabled"`
	Listeners      []fileListener      `mapstructure:"listeners"`
	StreamSettings []fileStreamSetting `mapstructure:"stream_settings"`
}

// LoadViper reads path (any format viper supports by extension: json, yaml,
// toml) and builds a StaticFacade from it. This is the demo binary's
// configuration entry point; the XML-based configuration format the
// original distribution uses is explicitly out of scope (§ Non-goals) and
// is left to an external collaborator to translate into this shape.
func LoadViper(path string) (*StaticFacade, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed fileConfig
	if err := v.Unmarshal(&parsed); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	facade := NewStaticFacade(parsed.ClientEnabled)
	for _, l := range parsed.Listeners {
		facade.AddListener(ListenerEntry{
			ConnectionKey:    l.ConnectionKey,
			PrimaryAddress:   l.PrimaryAddress,
			SecondaryAddress: l.SecondaryAddress,
			HasSecondaryAddr: l.SecondaryAddress != "",
		})
	}
	for _, s := range parsed.StreamSettings {
		facade.AddStreamSetting(s.StreamKey, s.ConnectionKey, OpenStreamSetting{
			BufferingPolicy: s.BufferingPolicy,
			BufferNum:       s.BufferNum,
			Arguments:       s.Arguments,
		})
	}
	return facade, nil
}
