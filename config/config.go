// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package config loads the JSON configuration for the hub daemon and
// peer client, with shell-style ${VAR} substitution against a
// configured environment map.
package config

import (
	"encoding/json"
	"io/ioutil"
	"reflect"
	"regexp"
	"strings"

	"github.com/bfix/gospel/logger"
)

///////////////////////////////////////////////////////////////////////
// Hub configuration

// HubConfig configures the fgeventsd daemon.
type HubConfig struct {
	Port               int    `json:"port"`               // TCP port (0 = OS-chosen)
	UDSPath            string `json:"udsPath"`            // optional Unix-domain socket path
	LocalID            int8   `json:"localId"`            // the hub's own peer id
	ProbeIntervalMS    int    `json:"probeIntervalMs"`    // liveness probe period, default 1000
	ProbeMissThreshold int    `json:"probeMissThreshold"` // consecutive misses before DROPPED, default 5
}

///////////////////////////////////////////////////////////////////////
// Peer client configuration

// ClientConfig configures a PeerClient.
type ClientConfig struct {
	Host              string `json:"host"`              // hub TCP host (TCP mode)
	Port              int    `json:"port"`               // hub TCP port (TCP mode)
	UDSPath           string `json:"udsPath"`            // hub UDS path (UDS mode)
	LocalID           int8   `json:"localId"`            // this peer's chosen id
	ReconnectDelayMS  int    `json:"reconnectDelayMs"`   // fixed delay between reconnect attempts, default 10000
}

///////////////////////////////////////////////////////////////////////
// Redis-backed presence publisher configuration (optional, best-effort)

// RedisConfig configures the optional presence publisher. A nil
// *RedisConfig (or empty Addr) disables presence publishing entirely.
type RedisConfig struct {
	Addr    string `json:"addr"`
	Channel string `json:"channel"`
}

///////////////////////////////////////////////////////////////////////
// Admin HTTP/RPC surface configuration

// AdminConfig configures the read-only status surface. An empty Addr
// disables it.
type AdminConfig struct {
	Addr string `json:"addr"`
}

///////////////////////////////////////////////////////////////////////

// Environ holds substitution values for ${VAR} references anywhere
// else in the config tree.
type Environ map[string]string

// Config is the aggregated configuration for the fgeventsd daemon.
// Client-only deployments (fgeventctl) parse the same file shape but
// only consult the Client/Env fields.
type Config struct {
	Env    Environ       `json:"environ"`
	Hub    *HubConfig    `json:"hub"`
	Client *ClientConfig `json:"client"`
	Redis  *RedisConfig  `json:"redis"`
	Admin  *AdminConfig  `json:"admin"`
}

var (
	// Cfg is the global configuration, populated by ParseConfig.
	Cfg *Config
)

// ParseConfig reads a JSON-encoded configuration file into Cfg and
// applies ${VAR} substitutions from its "environ" map.
func ParseConfig(fileName string) (err error) {
	file, err := ioutil.ReadFile(fileName)
	if err != nil {
		return
	}
	Cfg = new(Config)
	if err = json.Unmarshal(file, Cfg); err == nil {
		applySubstitutions(Cfg, Cfg.Env)
	}
	return
}

var rx = regexp.MustCompile(`\$\{([^\}]*)\}`)

// substString substitutes ${VAR} references in s with values from env.
func substString(s string, env map[string]string) string {
	matches := rx.FindAllStringSubmatch(s, -1)
	for _, m := range matches {
		if len(m[1]) != 0 {
			subst, ok := env[m[1]]
			if !ok {
				continue
			}
			s = strings.Replace(s, "${"+m[1]+"}", subst, -1)
		}
	}
	return s
}

// applySubstitutions traverses the configuration data structure and
// applies string substitutions to all string-typed fields, recursing
// into nested structs and pointers.
func applySubstitutions(x interface{}, env map[string]string) {

	var process func(v reflect.Value)
	process = func(v reflect.Value) {
		for i := 0; i < v.NumField(); i++ {
			fld := v.Field(i)
			if fld.CanSet() {
				switch fld.Kind() {
				case reflect.String:
					s := fld.Interface().(string)
					for {
						s1 := substString(s, env)
						if s1 == s {
							break
						}
						logger.Printf(logger.DBG, "[config] %s --> %s\n", s, s1)
						fld.SetString(s1)
						s = s1
					}

				case reflect.Struct:
					process(fld)

				case reflect.Ptr:
					e := fld.Elem()
					if e.IsValid() {
						process(fld.Elem())
					}
				}
			}
		}
	}
	v := reflect.ValueOf(x)
	switch v.Kind() {
	case reflect.Ptr:
		e := v.Elem()
		if e.IsValid() {
			process(e)
		}
	case reflect.Struct:
		process(v)
	}
}
