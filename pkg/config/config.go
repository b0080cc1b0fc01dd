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
	configDir  string = "mosdbg"
	configFile string = "config.yml"

	// DefaultImaginarySymbolPrefix is the prefix of the absolute symbols the
	// llvm-mos toolchain emits for each imaginary byte register.
	DefaultImaginarySymbolPrefix = "__rc"
	// DefaultFramePointerSlot is the imaginary word register used as the
	// frame pointer by llvm-mos.
	DefaultFramePointerSlot = 15
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// ImaginarySymbolPrefix is the symbol name prefix used to locate the
	// backing cells of imaginary registers. The decimal register index is
	// appended to it.
	ImaginarySymbolPrefix string `yaml:"imaginary-symbol-prefix,omitempty"`

	// FramePointerSlot is the index of the rs register that holds the soft
	// frame pointer.
	FramePointerSlot *int `yaml:"frame-pointer-slot,omitempty"`

	// StubAddress is the default address of the gdb remote stub used by the
	// connect command.
	StubAddress string `yaml:"stub-address,omitempty"`

	// Color controls colored output: "auto", "always" or "never".
	Color string `yaml:"color,omitempty"`
}

// SymbolPrefix returns the configured imaginary symbol prefix or the default.
func (c *Config) SymbolPrefix() string {
	if c == nil || c.ImaginarySymbolPrefix == "" {
		return DefaultImaginarySymbolPrefix
	}
	return c.ImaginarySymbolPrefix
}

// FPSlot returns the configured frame pointer slot or the default.
func (c *Config) FPSlot() int {
	if c == nil || c.FramePointerSlot == nil {
		return DefaultFramePointerSlot
	}
	return *c.FramePointerSlot
}

// Validate checks that the configuration values are in range.
func (c *Config) Validate() error {
	if c.FramePointerSlot != nil && (*c.FramePointerSlot < 0 || *c.FramePointerSlot > 127) {
		return fmt.Errorf("frame-pointer-slot %d out of range [0, 127]", *c.FramePointerSlot)
	}
	switch c.Color {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("invalid color setting %q", c.Color)
	}
	return nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	return LoadConfigFile(fullConfigFile)
}

// LoadConfigFile reads and decodes the config file at path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := c.Validate(); err != nil {
		return &Config{}, err
	}

	return &c, nil
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

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	err = writeDefaultConfig(f)
	if err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the mosdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Prefix of the absolute symbols marking imaginary register cells.
# imaginary-symbol-prefix: __rc

# Index of the rs register used as the soft frame pointer.
# frame-pointer-slot: 15

# Default address of the gdb remote stub.
# stub-address: localhost:1234

# Colored output: auto, always or never.
# color: auto
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
	if configPath := os.Getenv("XDG_CONFIG_HOME"); configPath != "" {
		return path.Join(configPath, configDir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, ".config", configDir, file), nil
}
