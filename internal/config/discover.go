package config

import (
	"github.com/spf13/viper"
)

// SearchPaths are checked, in order, for a mediafetch config file when no
// explicit path is given.
var SearchPaths = []string{".", "/etc/mediafetch/", "$HOME/.mediafetch"}

// Discover returns the first mediafetch.{yaml,json,toml,...} found in dirs,
// or "" when there is none. Nil dirs means SearchPaths.
func Discover(dirs ...string) string {
	if dirs == nil {
		dirs = SearchPaths
	}
	v := viper.New()
	v.SetConfigName("mediafetch")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}
