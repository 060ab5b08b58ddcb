package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Settings struct {
	Host       string `mapstructure:"host" json:"host"`
	MapWidth   int    `mapstructure:"mapWidth" json:"mapWidth"`
	MapHeight  int    `mapstructure:"mapHeight" json:"mapHeight"`
	FPS        int    `mapstructure:"fps" json:"fps"`
	Jobs       int    `mapstructure:"jobs" json:"jobs"`
	ServerPort int    `mapstructure:"serverPort" json:"serverPort"`
	FaceIndex  string `mapstructure:"faceIndex" json:"faceIndex"`
	AnimIndex  string `mapstructure:"animIndex" json:"animIndex"`
	Record     string `mapstructure:"record" json:"record"`
	Debug      bool   `mapstructure:"debug" json:"debug"`
	Dump       bool   `mapstructure:"dump" json:"dump"`
	View       bool   `mapstructure:"view" json:"view"`
	LogMaxMB   int    `mapstructure:"logMaxMB" json:"logMaxMB"`
	LogKeep    int    `mapstructure:"logKeep" json:"logKeep"`
	WarnRate   int    `mapstructure:"warnRate" json:"warnRate"`
}

var gs Settings

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost:13327")
	v.SetDefault("mapWidth", 25)
	v.SetDefault("mapHeight", 25)
	v.SetDefault("fps", 0)
	v.SetDefault("jobs", 4)
	v.SetDefault("serverPort", 13327)
	v.SetDefault("faceIndex", "")
	v.SetDefault("animIndex", "")
	v.SetDefault("record", "")
	v.SetDefault("debug", false)
	v.SetDefault("dump", false)
	v.SetDefault("view", false)
	v.SetDefault("logMaxMB", 10)
	v.SetDefault("logKeep", 5)
	v.SetDefault("warnRate", 10)
}

// newFlagSet describes the command line. Flag names match the settings
// keys so that viper can bind them directly.
func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("cfclient", pflag.ContinueOnError)
	fs.String("connect", "", "connect to a server at host:port instead of replaying files")
	fs.Int("mapWidth", 25, "requested viewport width")
	fs.Int("mapHeight", 25, "requested viewport height")
	fs.IntP("fps", "f", 0, "replay speed in messages per second, 0 replays as fast as possible")
	fs.IntP("jobs", "j", 4, "files replayed at once")
	fs.Int("serverPort", 13327, "server port to extract from pcap captures")
	fs.String("faceIndex", "", "face index file (id name WxH per line)")
	fs.String("animIndex", "", "animation definitions file")
	fs.String("record", "", "record the live server stream to this file")
	fs.BoolP("debug", "d", false, "verbose/debug logging")
	fs.Bool("dump", false, "print the final map of every replay")
	fs.Bool("view", false, "show the map in the terminal")
	fs.Bool("save", false, "write the effective settings to settings.json")
	return fs
}

// loadSettings reads settings.json from baseDir, then overrides it with
// any flags the user set.
func loadSettings(v *viper.Viper, fs *pflag.FlagSet) error {
	setDefaults(v)
	v.SetConfigFile(filepath.Join(baseDir, "settings.json"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read settings: %w", err)
		}
	}
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	if c := v.GetString("connect"); c != "" {
		v.Set("host", c)
	}
	if err := v.Unmarshal(&gs); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if gs.Jobs < 1 {
		gs.Jobs = 1
	}
	if gs.FPS < 0 {
		gs.FPS = 0
	}
	return nil
}

func saveSettings(v *viper.Viper) error {
	path := filepath.Join(baseDir, "settings.json")
	for key, val := range map[string]any{
		"host":      gs.Host,
		"mapWidth":  gs.MapWidth,
		"mapHeight": gs.MapHeight,
		"fps":       gs.FPS,
		"jobs":      gs.Jobs,
		"faceIndex": gs.FaceIndex,
		"animIndex": gs.AnimIndex,
		"debug":     gs.Debug,
	} {
		v.Set(key, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
