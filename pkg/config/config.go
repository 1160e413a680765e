package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kabili207/mesh-chat-gateway/pkg/radio"
	"github.com/kabili207/mesh-chat-gateway/pkg/store"
	"github.com/spf13/viper"
)

type Configuration struct {
	Debug        bool
	MeshSettings MeshSettings
	Chat         ChatSettings
	WebApp       WebAppSettings
	Database     store.ConnectionSettings
}

type MeshSettings struct {
	MqttAddress string
	User        string
	Password    string
	MqttRoot    string
	Channels    []MeshChannelDef
	// PrimaryChannel names the channel outbound messages are sent on. It must
	// match one of the entries in Channels.
	PrimaryChannel string
	HopLimit       uint32
	SelfNode       struct {
		NodeID    radio.NodeID
		LongName  string
		ShortName string
	}
}

type MeshChannelDef struct {
	Name string
	Key  string
}

type ChatSettings struct {
	ServerURL string
	Token     string
	// Room is the single bound channel id mirrored to and from the mesh.
	Room string
}

type WebAppSettings struct {
	Enabled    bool
	ListenAddr string
	// Map center used by the dashboard before any node reports a position.
	CenterLatitude  float64
	CenterLongitude float64
	// LastHeardDefault is the default map tail in seconds: nodes not heard
	// within this window are hidden unless the request overrides it.
	LastHeardDefault int
}

// Load reads the configuration file at path and unmarshals it, applying
// defaults for optional settings.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("meshsettings.mqttroot", "msh/US")
	v.SetDefault("meshsettings.hoplimit", 3)
	v.SetDefault("webapp.listenaddr", ":8080")
	v.SetDefault("webapp.lasthearddefault", 3600)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config: %w", err)
	}

	var cfg Configuration
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("unable to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Configuration) validate() error {
	if len(c.MeshSettings.Channels) == 0 {
		return fmt.Errorf("at least one mesh channel must be configured")
	}
	if c.MeshSettings.PrimaryChannel == "" {
		c.MeshSettings.PrimaryChannel = c.MeshSettings.Channels[0].Name
	}
	found := false
	for _, ch := range c.MeshSettings.Channels {
		if ch.Name == c.MeshSettings.PrimaryChannel {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("primary channel %q is not a configured channel", c.MeshSettings.PrimaryChannel)
	}
	if c.Chat.Room == "" {
		return fmt.Errorf("chat room binding must be configured")
	}
	return nil
}
