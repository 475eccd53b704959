// Package config holds the sidecar configuration: NATS endpoint, input and
// control subjects, the attribute schema, lease coordinates and operational
// knobs. Values come from a YAML file with CLI flags applied on top
// (flag wins).
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AttributeType is the declared type of a schema attribute.
type AttributeType int

const (
	TypeBoolean AttributeType = iota
	TypeInteger
	TypeFloat
	TypeString
	TypeStringList
	TypeIntegerList
)

// String returns the canonical config-file spelling of the type.
func (t AttributeType) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeStringList:
		return "string_list"
	case TypeIntegerList:
		return "integer_list"
	default:
		return fmt.Sprintf("AttributeType(%d)", int(t))
	}
}

// ParseAttributeType parses an attribute type name. Short aliases are
// accepted alongside the canonical spellings.
func ParseAttributeType(s string) (AttributeType, bool) {
	switch s {
	case "boolean", "bool":
		return TypeBoolean, true
	case "integer", "int":
		return TypeInteger, true
	case "float", "double":
		return TypeFloat, true
	case "string", "str":
		return TypeString, true
	case "string_list":
		return TypeStringList, true
	case "integer_list", "int_list":
		return TypeIntegerList, true
	default:
		return 0, false
	}
}

// AttributeDef declares one schema attribute.
type AttributeDef struct {
	Name string        `yaml:"name"`
	Type AttributeType `yaml:"type"`
}

// UnmarshalYAML decodes the type from its string name.
func (t *AttributeType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, ok := ParseAttributeType(s)
	if !ok {
		return fmt.Errorf("invalid attribute type %q", s)
	}
	*t = parsed
	return nil
}

// MarshalYAML encodes the type as its string name.
func (t AttributeType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// Format identifies the binary serialization of inbound payloads.
type Format int

const (
	FormatMsgPack Format = iota
	FormatCBOR
	FormatFlexBuffers
	FormatZera
)

func (f Format) String() string {
	switch f {
	case FormatMsgPack:
		return "msgpack"
	case FormatCBOR:
		return "cbor"
	case FormatFlexBuffers:
		return "flexbuffers"
	case FormatZera:
		return "zera"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses a format name. Returns false for anything that is not
// one of msgpack, cbor, flexbuffers, zera.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "msgpack":
		return FormatMsgPack, true
	case "cbor":
		return FormatCBOR, true
	case "flexbuffers":
		return FormatFlexBuffers, true
	case "zera":
		return FormatZera, true
	default:
		return 0, false
	}
}

func (f *Format) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, ok := ParseFormat(s)
	if !ok {
		return fmt.Errorf("invalid format %q", s)
	}
	*f = parsed
	return nil
}

func (f Format) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

// Config is the full sidecar configuration.
type Config struct {
	// NATS connection
	NatsAddress string `yaml:"nats_address"`
	NatsPort    int    `yaml:"nats_port"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKey      string `yaml:"tls_key"`
	TLSCA       string `yaml:"tls_ca"`

	// Input stream: core NATS subject carrying binary messages.
	InputSubject    string `yaml:"input_subject"`
	Format          Format `yaml:"format"`
	InputQueueGroup string `yaml:"input_queue_group"`

	// Matched messages are published to <output_prefix>.<ID>.
	// Defaults to input_subject when empty.
	OutputPrefix string `yaml:"output_prefix"`

	// Control subjects for subscription requests.
	SubscribeSubject   string `yaml:"subscribe_subject"`
	UnsubscribeSubject string `yaml:"unsubscribe_subject"`

	// Soft-state leases via NATS KV.
	LeaseBucket               string `yaml:"lease_bucket"`
	LeaseTTLSeconds           int    `yaml:"lease_ttl_seconds"`
	LeaseCheckIntervalSeconds int    `yaml:"lease_check_interval_seconds"`

	// Attribute schema (required, non-empty).
	Attributes []AttributeDef `yaml:"attributes"`

	// Worker goroutines for parallel matching. 0 = number of CPUs.
	WorkerThreads int `yaml:"worker_threads"`

	// Operational
	StatsIntervalSeconds int    `yaml:"stats_interval_seconds"`
	LogLevel             string `yaml:"log_level"`
	LogFile              string `yaml:"log_file"`
}

// DefaultConfig returns the built-in defaults. YAML and flags override them.
func DefaultConfig() Config {
	return Config{
		NatsAddress:               "127.0.0.1",
		NatsPort:                  4222,
		Format:                    FormatMsgPack,
		SubscribeSubject:          "sidecar.subscribe",
		UnsubscribeSubject:        "sidecar.unsubscribe",
		LeaseBucket:               "sidecar-leases",
		LeaseTTLSeconds:           3600,
		LeaseCheckIntervalSeconds: 60,
		StatsIntervalSeconds:      10,
		LogLevel:                  "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants a running sidecar depends on. It also
// applies the output_prefix default.
func (c *Config) Validate() error {
	if c.InputSubject == "" {
		return fmt.Errorf("config: 'input_subject' is required")
	}
	if len(c.Attributes) == 0 {
		return fmt.Errorf("config: 'attributes' must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Attributes))
	for _, a := range c.Attributes {
		if a.Name == "" {
			return fmt.Errorf("config: attribute with empty name")
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("config: duplicate attribute %q", a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	if c.OutputPrefix == "" {
		c.OutputPrefix = c.InputSubject
	}
	if c.LeaseTTLSeconds <= 0 {
		return fmt.Errorf("config: 'lease_ttl_seconds' must be positive")
	}
	if c.StatsIntervalSeconds <= 0 {
		return fmt.Errorf("config: 'stats_interval_seconds' must be positive")
	}
	return nil
}

// NatsURL renders the configured endpoint as a NATS URL.
func (c *Config) NatsURL() string {
	return fmt.Sprintf("nats://%s:%d", c.NatsAddress, c.NatsPort)
}
