package server

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/weftql/weft/telemetry"
)

// Config mirrors weft.yaml.
type Config struct {
	Gateway   GatewayConfig    `yaml:"gateway"`
	Subgraphs []SubgraphConfig `yaml:"subgraphs"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type GatewayConfig struct {
	Endpoint string `yaml:"endpoint"`
	Listen   string `yaml:"listen"`
	Timeout  string `yaml:"timeout"`
}

type SubgraphConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoadConfig reads and validates the YAML config at path, filling in
// defaults for anything the file leaves out.
func LoadConfig(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(src, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Gateway.Endpoint == "" {
		cfg.Gateway.Endpoint = "/graphql"
	}
	if cfg.Gateway.Listen == "" {
		cfg.Gateway.Listen = ":8080"
	}
	if cfg.Gateway.Timeout == "" {
		cfg.Gateway.Timeout = "30s"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.Gateway.Timeout); err != nil {
		return fmt.Errorf("gateway.timeout: %w", err)
	}
	for i, sub := range c.Subgraphs {
		if sub.Name == "" {
			return fmt.Errorf("subgraphs[%d]: name is required", i)
		}
		if sub.URL == "" {
			return fmt.Errorf("subgraphs[%d] (%s): url is required", i, sub.Name)
		}
	}
	return nil
}

// SubgraphTimeout is the per-request budget for subgraph fetches.
func (c *Config) SubgraphTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gateway.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

const starterConfig = `# weft gateway configuration.
gateway:
  # Path the federated GraphQL API is served on.
  endpoint: /graphql
  # Address the HTTP server binds.
  listen: :8080
  # Per-request budget for subgraph fetches.
  timeout: 30s

# Subgraphs composed into the supergraph at startup. Each must answer the
# federation service query { _service { sdl } }. More can be added at runtime
# through POST /schema/registration.
subgraphs: []
#  - name: products
#    url: http://localhost:4001/graphql
#  - name: reviews
#    url: http://localhost:4002/graphql

# OTLP/HTTP trace export. Spans cover every request phase and subgraph fetch.
telemetry:
  enabled: false
  endpoint: localhost:4318
  service_name: weft
`

// Init writes a commented starter weft.yaml into the working directory. It
// refuses to overwrite an existing file.
func Init() error {
	if _, err := os.Stat("weft.yaml"); err == nil {
		return fmt.Errorf("weft.yaml already exists")
	}
	if err := os.WriteFile("weft.yaml", []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write weft.yaml: %w", err)
	}
	return nil
}
