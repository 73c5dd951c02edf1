package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".athrill"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// OpLog is the path of the operation log. Successful debugger
	// commands are appended to it and it is replayed when the
	// interactive console starts.
	OpLog string `yaml:"oplog,omitempty"`

	// DataAccessCSV is the destination of the data access export.
	DataAccessCSV string `yaml:"data-access-csv,omitempty"`

	// MallocFreePolicy selects what happens when the guest frees an
	// address that is not a live allocation: ignore, warn or strict.
	MallocFreePolicy string `yaml:"malloc-free-policy,omitempty"`

	// MallocUnitSize is the size in KB of a malloc pool unit.
	MallocUnitSize int `yaml:"malloc-unit-size,omitempty"`

	// MemoryProtection enables per-core permission checks on every
	// guest memory access.
	MemoryProtection bool `yaml:"memory-protection"`

	// ViewMode logs every retired instruction on the emulator layer.
	ViewMode bool `yaml:"view-mode"`
}

// Defaults used when the config file leaves a field unset.
const (
	DefaultDataAccessCSV    = "./data_access.csv"
	DefaultMallocFreePolicy = "warn"
	DefaultMallocUnitSize   = 1
)

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return defaultConfig()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return defaultConfig()
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return defaultConfig()
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return defaultConfig()
	}

	c, err := Decode(data)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return defaultConfig()
	}
	return c
}

// Decode parses a YAML document into a Config and fills in defaults for
// the fields it leaves unset.
func Decode(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.fillDefaults()
	if err := CheckFreePolicy(c.MallocFreePolicy); err != nil {
		return nil, err
	}
	if c.MallocUnitSize < 0 {
		return nil, fmt.Errorf("malloc-unit-size must be positive, got %d", c.MallocUnitSize)
	}
	return &c, nil
}

// CheckFreePolicy returns an error if s is not a malloc free policy.
func CheckFreePolicy(s string) error {
	switch s {
	case "ignore", "warn", "strict":
		return nil
	}
	return fmt.Errorf("unknown malloc-free-policy %q", s)
}

func defaultConfig() *Config {
	c := &Config{}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	if c.DataAccessCSV == "" {
		c.DataAccessCSV = DefaultDataAccessCSV
	}
	if c.MallocFreePolicy == "" {
		c.MallocFreePolicy = DefaultMallocFreePolicy
	}
	if c.MallocUnitSize == 0 {
		c.MallocUnitSize = DefaultMallocUnitSize
	}
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the athrill emulator.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Commands that succeed are appended to this file and replayed at startup.
# oplog: ./oplog.txt

# Destination of the "da -" export.
# data-access-csv: ./data_access.csv

# What to do when the guest frees an address it does not own (ignore, warn, strict).
# malloc-free-policy: warn

# Size in KB of a malloc pool unit.
# malloc-unit-size: 1

# Check the per-core permission bitmap on every guest memory access.
memory-protection: false

# Log every retired instruction.
view-mode: false
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
