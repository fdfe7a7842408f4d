package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// DumpExampleConfig writes an example configuration to the provided writer
func DumpExampleConfig(w io.Writer) error {
	example := &Config{
		Engine: EngineConfig{
			ConnectorsDirectory: "./connectors",
			HostWorkers:         8,
			TickIntervalMS:      1000,
		},
		Hosts: []HostConfig{
			{
				Hostname:               "server-01.example.com",
				HostType:               "linux",
				CollectIntervalSeconds: 120,
				DiscoveryCycle:         30,
				StrategyTimeoutSeconds: 900,
				RetryDelayMS:           1000,
				RetryMaxAttempts:       1,
				SerializationTimeoutMS: 120000,
				JobPoolSize:            20,
				PowerEstimates:         map[string]float64{"fan": 5, "physical_disk": 11, "cpu": 65},
				Protocols: ProtocolsConfig{
					SSH: &SSHConfig{Username: "monitor", Password: "changeme", Port: 22, TimeoutMS: 30000},
					IPMI: &IPMIConfig{
						Username: "admin", Password: "changeme", Interface: "lanplus", TimeoutMS: 30000,
					},
				},
			},
			{
				Hostname:               "10.0.10.1-10.0.10.4",
				HostType:               "network",
				CollectIntervalSeconds: 60,
				Connectors:             []string{"+GenericSwitch", "!MIB2"},
				Protocols: ProtocolsConfig{
					SNMP: &SNMPConfig{Version: "2c", Community: "public", Port: 161, TimeoutMS: 5000, Retries: 1},
				},
			},
		},
		Exporter: ExporterConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           24375,
			ReadTimeoutMS:  10000,
			WriteTimeoutMS: 30000,
		},
		MQTT: MQTTConfig{
			Enabled:           false,
			Broker:            "tcp://localhost:1883",
			ClientID:          "nmslite-engine",
			TopicPrefix:       "engine",
			PublishIntervalMS: 60000,
		},
		Database: DatabaseConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			User:            "nmslite",
			Password:        "changeme",
			DBName:          "nmslite",
			SSLMode:         "disable",
			MaxConns:        10,
			BatchSize:       1000,
			FlushIntervalMS: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	var node yaml.Node
	if err := node.Encode(example); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	header := `# =============================================================================
# NMS Lite Engine Example Configuration
# =============================================================================
# hostname accepts a name, an address, an address range or a CIDR block.
# connectors: "+Id" forces a connector without detection, "!Id" excludes it.
#
# Environment variable overrides follow the pattern: NMS_<SECTION>_<KEY>
# Example: NMS_DATABASE_HOST, NMS_MQTT_BROKER, NMS_LOGGING_LEVEL
# =============================================================================

`
	if _, err := fmt.Fprint(w, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	return nil
}
