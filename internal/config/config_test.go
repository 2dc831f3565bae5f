package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdnscloud/dhcp4-slave/internal/config"
)

func validDHCP4() (c config.DHCP4) {
	return config.DHCP4{
		InterfacesConfig: config.InterfacesConfig{Interfaces: []string{"eth0"}},
		WorkerCount:      4,
		KeaMasterAddr:    "127.0.0.1:9000",
		Subnet4: []config.Subnet4{{
			ID:             1,
			Subnet:         "192.0.2.0/24",
			Pools:          []string{"192.0.2.100-192.0.2.200"},
			ValidLifetimeS: 3600,
		}},
	}
}

func TestDHCP4_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *config.DHCP4)
		wantErr bool
	}{{
		name:    "valid",
		mutate:  func(*config.DHCP4) {},
		wantErr: false,
	}, {
		name:    "no_master_addr",
		mutate:  func(c *config.DHCP4) { c.KeaMasterAddr = "" },
		wantErr: true,
	}, {
		name:    "no_interfaces",
		mutate:  func(c *config.DHCP4) { c.InterfacesConfig.Interfaces = nil },
		wantErr: true,
	}, {
		name:    "no_subnets",
		mutate:  func(c *config.DHCP4) { c.Subnet4 = nil },
		wantErr: true,
	}, {
		name:    "negative_worker_count",
		mutate:  func(c *config.DHCP4) { c.WorkerCount = -1 },
		wantErr: true,
	}, {
		name: "bad_subnet_prefix",
		mutate: func(c *config.DHCP4) {
			c.Subnet4[0].Subnet = "not-a-prefix"
		},
		wantErr: true,
	}, {
		name: "duplicate_subnet_id",
		mutate: func(c *config.DHCP4) {
			c.Subnet4 = append(c.Subnet4, c.Subnet4[0])
		},
		wantErr: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := validDHCP4()
			tc.mutate(&c)

			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) (path string) {
	t.Helper()

	path = filepath.Join(t.TempDir(), "dhcp4.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestLoadAndBuild(t *testing.T) {
	path := writeConfig(t, `{
		"dhcp4": {
			"interfaces-config": {"interfaces": ["eth0"]},
			"worker-count": 4,
			"kea-master-addr": "127.0.0.1:9000",
			"ping-check": {"enable": true, "timeout-ms": 500},
			"option-def": [
				{"name": "my-option", "code": 200, "type": "string"}
			],
			"client-classes": [
				{"name": "voip", "test": "exists option[60]"}
			],
			"subnet4": [{
				"id": 1,
				"subnet": "192.0.2.0/24",
				"pools": ["192.0.2.100-192.0.2.200"],
				"next-server": "192.0.2.1",
				"valid-lifetime": 3600,
				"option-data": [
					{"code": 3, "ipv4-list": ["192.0.2.1"]},
					{"code": 6, "ipv4-list": ["192.0.2.2", "192.0.2.3"]}
				]
			}],
			"hooks-libraries": [
				{"library": "/opt/hooks/example.so", "parameters": {"key": "value"}}
			]
		}
	}`)

	b, err := config.LoadAndBuild(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"eth0"}, b.Interfaces)
	assert.Equal(t, 4, b.WorkerCount)
	assert.Equal(t, "127.0.0.1:9000", b.KeaMasterAddr)
	assert.True(t, b.PingEnable)
	assert.Equal(t, 500*time.Millisecond, b.PingTimeout)
	assert.Equal(t, 1, b.Subnets.Len())
	assert.Len(t, b.HooksLibraries, 1)

	sub, ok := b.Subnets.Get(1)
	require.True(t, ok)
	assert.Equal(t, 3600*time.Second, sub.DefaultValid)
	assert.Contains(t, sub.OptionData, uint8(3))

	js, err := b.HooksLibraries[0].ParametersJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"key": "value"}`, js)
}

func TestLoadAndBuild_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `{"dhcp4": {}}`)

	_, err := config.LoadAndBuild(path)
	assert.Error(t, err)
}

func TestLoad_LoggingAndMetrics(t *testing.T) {
	path := writeConfig(t, `{
		"dhcp4": {
			"interfaces-config": {"interfaces": ["eth0"]},
			"worker-count": 4,
			"kea-master-addr": "127.0.0.1:9000",
			"subnet4": [{
				"id": 1,
				"subnet": "192.0.2.0/24",
				"pools": ["192.0.2.100-192.0.2.200"],
				"valid-lifetime": 3600
			}]
		},
		"logging": {
			"file": "/var/log/dhcp4-slave.log",
			"verbose": true,
			"max-size": 100,
			"max-age": 7,
			"max-backups": 3,
			"compress": true
		},
		"metrics": {
			"listen-addr": "127.0.0.1:9100"
		}
	}`)

	f, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/log/dhcp4-slave.log", f.Logging.File)
	assert.True(t, f.Logging.Verbose)
	assert.Equal(t, 100, f.Logging.MaxSizeMB)
	assert.Equal(t, 7, f.Logging.MaxAgeDays)
	assert.Equal(t, 3, f.Logging.MaxBackups)
	assert.True(t, f.Logging.Compress)
	assert.Equal(t, "127.0.0.1:9100", f.Metrics.ListenAddr)
}

func TestLoad_LoggingAndMetrics_Defaults(t *testing.T) {
	path := writeConfig(t, `{
		"dhcp4": {
			"interfaces-config": {"interfaces": ["eth0"]},
			"worker-count": 4,
			"kea-master-addr": "127.0.0.1:9000",
			"subnet4": [{
				"id": 1,
				"subnet": "192.0.2.0/24",
				"pools": ["192.0.2.100-192.0.2.200"],
				"valid-lifetime": 3600
			}]
		}
	}`)

	f, err := config.Load(path)
	require.NoError(t, err)

	assert.Empty(t, f.Logging.File)
	assert.Empty(t, f.Metrics.ListenAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestOptionDef_UnknownType(t *testing.T) {
	c := validDHCP4()
	c.OptionDef = []config.OptionDef{{Name: "bad", Code: 201, Type: "not-a-type"}}

	assert.Error(t, c.Validate())
}
