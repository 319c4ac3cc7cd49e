// Package config loads the operator configuration of the provisioning tool.
//
// Configuration comes from an optional YAML file passed with --config. Every field
// has a default matching the ELOC factory layout, so running without a file works
// from the firmware project root:
//
//	record_file: nvs.csv
//	audit_file: provisioning_log.csv
//	environment: esp32dev-ei-windows
//	firmware_offset: 0x10000
//	nvs:
//	  image: .pio/build/esp32dev/nvs.bin
//	  offset: 0x9000
//	  size: 0x6000
//	baud: 921600
//	operator_pause: 4s
//
// Path values may reference environment variables as ${VAR}, which is how
// installations point nvs_tool at their ESP-IDF checkout.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ruteri/eloc-provisioning/provisioning"
	"gopkg.in/yaml.v3"
)

// Config is the complete tool configuration.
type Config struct {
	// RecordFile is the factory configuration table updated by each transaction.
	RecordFile string `yaml:"record_file"`

	// AuditFile is the append-only provisioning log.
	AuditFile string `yaml:"audit_file"`

	// AuditTimezone is the IANA zone audit timestamps are written in. "Local" or
	// empty uses the machine zone.
	AuditTimezone string `yaml:"audit_timezone"`

	// ProjectDir is the PlatformIO project root.
	ProjectDir string `yaml:"project_dir"`

	// Environment is the PlatformIO environment built and flashed.
	Environment string `yaml:"environment"`

	// FirmwareOffset is where the application image is written.
	FirmwareOffset uint64 `yaml:"firmware_offset"`

	NVS NVSConfig `yaml:"nvs"`

	// PartitionTable is the ESP-IDF partitions CSV used by flash-factory.
	PartitionTable string `yaml:"partition_table"`

	// Port is the serial connection. Empty discovers it.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	Chip string `yaml:"chip"`

	// OperatorPause is the wait between the firmware and NVS flashes, giving the
	// operator time to reset the board or abort.
	OperatorPause time.Duration `yaml:"operator_pause"`

	Tools ToolsConfig `yaml:"tools"`

	KeyPolicy      string                  `yaml:"key_policy"`
	NewKeyEncoding string                  `yaml:"new_key_encoding"`
	FieldNames     provisioning.FieldNames `yaml:"field_names"`

	// Archive lists storage URIs the audit log is copied to by `audit archive`.
	Archive []string `yaml:"archive"`

	// ArchivePublicKey is a PEM public key. When set, archives are sealed to it
	// before they leave the station.
	ArchivePublicKey string `yaml:"archive_public_key"`
}

// NVSConfig locates the NVS partition image.
type NVSConfig struct {
	Image  string `yaml:"image"`
	Offset uint64 `yaml:"offset"`
	Size   uint64 `yaml:"size"`
}

// ToolsConfig locates the external tools.
type ToolsConfig struct {
	PlatformIO string `yaml:"platformio"`
	Python     string `yaml:"python"`
	// NVSTool is the path of nvs_partition_gen.py.
	NVSTool string `yaml:"nvs_tool"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		RecordFile:     "nvs.csv",
		AuditFile:      "provisioning_log.csv",
		AuditTimezone:  "Local",
		ProjectDir:     ".",
		Environment:    "esp32dev-ei-windows",
		FirmwareOffset: 0x10000,
		NVS: NVSConfig{
			Image:  ".pio/build/esp32dev/nvs.bin",
			Offset: 0x9000,
			Size:   0x6000,
		},
		PartitionTable: "partitions.csv",
		Baud:           921600,
		Chip:           "esp32",
		OperatorPause:  4 * time.Second,
		Tools: ToolsConfig{
			PlatformIO: "platformio",
			Python:     "python",
		},
		KeyPolicy:      string(provisioning.KeyPolicyAlways),
		NewKeyEncoding: "string",
		FieldNames:     provisioning.DefaultFieldNames(),
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.expandVariables()
	return c.Validate()
}

func (c *Config) expandVariables() {
	for _, p := range []*string{
		&c.RecordFile,
		&c.AuditFile,
		&c.ProjectDir,
		&c.NVS.Image,
		&c.PartitionTable,
		&c.Tools.PlatformIO,
		&c.Tools.Python,
		&c.Tools.NVSTool,
		&c.ArchivePublicKey,
	} {
		*p = os.ExpandEnv(*p)
	}
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	if c.RecordFile == "" {
		return errors.New("record_file must be set")
	}
	if c.AuditFile == "" {
		return errors.New("audit_file must be set")
	}
	if _, err := provisioning.ParseKeyPolicy(c.KeyPolicy); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Baud < 0 {
		return fmt.Errorf("baud must not be negative, got %d", c.Baud)
	}
	if c.OperatorPause < 0 {
		return fmt.Errorf("operator_pause must not be negative, got %s", c.OperatorPause)
	}
	return nil
}

// Location resolves AuditTimezone.
func (c *Config) Location() (*time.Location, error) {
	if c.AuditTimezone == "" || c.AuditTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.AuditTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid audit_timezone: %w", err)
	}
	return loc, nil
}

// ProvisioningConfig maps the file settings onto the transaction configuration.
func (c *Config) ProvisioningConfig() (provisioning.Config, error) {
	policy, err := provisioning.ParseKeyPolicy(c.KeyPolicy)
	if err != nil {
		return provisioning.Config{}, err
	}
	return provisioning.Config{
		KeyPolicy:      policy,
		FieldNames:     c.FieldNames,
		NewKeyEncoding: c.NewKeyEncoding,
	}, nil
}
