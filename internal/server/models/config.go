// Package models defines the catalog records persisted by the server.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ConfigType says which side of a game a config targets.
type ConfigType int16

const (
	ConfigTypeServer ConfigType = iota
	ConfigTypeClient
)

func (t ConfigType) String() string {
	switch t {
	case ConfigTypeServer:
		return "server"
	case ConfigTypeClient:
		return "client"
	default:
		return fmt.Sprintf("ConfigType(%d)", int16(t))
	}
}

func (t ConfigType) Valid() bool {
	return t == ConfigTypeServer || t == ConfigTypeClient
}

// ParseConfigType accepts "server" and "client" in any case. An empty
// string means server.
func ParseConfigType(s string) (ConfigType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "server":
		return ConfigTypeServer, nil
	case "client":
		return ConfigTypeClient, nil
	default:
		return 0, fmt.Errorf("unknown config type %q", s)
	}
}

// ConfigTypeFromDB maps the SMALLINT column back to the enum.
func ConfigTypeFromDB(v int16) (ConfigType, error) {
	t := ConfigType(v)
	if !t.Valid() {
		return 0, fmt.Errorf("unknown config type value %d", v)
	}
	return t, nil
}

func (t ConfigType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown config type value %d", int16(t))
	}
	return []byte(t.String()), nil
}

func (t *ConfigType) UnmarshalText(b []byte) error {
	v, err := ParseConfigType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ConfigEntry is one published config as recorded in the catalog.
type ConfigEntry struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	Type      ConfigType `json:"config_type"`
	OwnerID   string     `json:"owner_id,omitempty"`
	Size      int64      `json:"size"`
	Checksum  string     `json:"checksum,omitempty"`
}

// NewConfigEntry carries the fields a caller supplies on insert; the catalog
// assigns the id.
type NewConfigEntry struct {
	Name      string
	Type      ConfigType
	CreatedAt time.Time
	OwnerID   string
	Size      int64
	Checksum  string
}
