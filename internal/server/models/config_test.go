package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigType(t *testing.T) {
	tests := []struct {
		in      string
		want    ConfigType
		wantErr bool
	}{
		{"", ConfigTypeServer, false},
		{"server", ConfigTypeServer, false},
		{"Client", ConfigTypeClient, false},
		{" CLIENT ", ConfigTypeClient, false},
		{"proxy", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseConfigType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestConfigTypeFromDB(t *testing.T) {
	got, err := ConfigTypeFromDB(1)
	require.NoError(t, err)
	assert.Equal(t, ConfigTypeClient, got)

	_, err = ConfigTypeFromDB(7)
	require.Error(t, err)
}

func TestConfigType_String(t *testing.T) {
	assert.Equal(t, "server", ConfigTypeServer.String())
	assert.Equal(t, "client", ConfigTypeClient.String())
	assert.Equal(t, "ConfigType(9)", ConfigType(9).String())
}

func TestConfigEntry_JSON(t *testing.T) {
	in := ConfigEntry{
		ID:        3,
		Name:      "server1.cfg",
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Type:      ConfigTypeClient,
		Size:      23,
	}

	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"config_type":"client"`)
	assert.NotContains(t, string(b), "owner_id")

	var out ConfigEntry
	require.NoError(t, json.Unmarshal(b, &out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigType_MarshalInvalid(t *testing.T) {
	_, err := json.Marshal(ConfigEntry{Type: ConfigType(5)})
	require.Error(t, err)
}
