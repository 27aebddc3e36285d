package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/davidroman0O/bmcmanager/errors"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "BMCMANAGER"

	// DefaultFallbackOOB is the generic IPMI driver.
	DefaultFallbackOOB = "base"

	defaultNetboxTimeout = 10
	defaultExpectedPSUs  = 1
)

var validate = validator.New()

// Default returns a configuration with no file loaded.
func Default() *Config {
	return &Config{
		FallbackOOB:  DefaultFallbackOOB,
		OOBOverrides: map[string]string{},
		DCIMs:        map[string]DCIMConfig{},
		OOBs:         map[string]OOBConfig{},
	}
}

// SearchPaths lists the files tried, in order, when no file is given explicitly.
func SearchPaths() []string {
	var paths []string
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bmcmanager.yaml"))
	}
	paths = append(paths, "bmcmanager.yaml", "/etc/bmcmanager.yaml")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "bmcmanager.yaml"))
	}
	if snap := os.Getenv("SNAP_COMMON"); snap != "" {
		paths = append(paths, filepath.Join(snap, "bmcmanager.yaml"))
	}
	return paths
}

// Load reads the configuration from path, or from the first existing file of
// SearchPaths when path is empty. A missing file yields Default().
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("fallback_oob", DefaultFallbackOOB)
	_ = v.BindEnv("default_dcim")
	_ = v.BindEnv("fallback_oob")

	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WithContext(
				errors.Wrap(err, errors.ErrConfiguration, "failed to read configuration file"),
				map[string]interface{}{"path": path},
			)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to decode configuration")
	}
	if path != "" {
		versions, err := rawFirmwareVersions(path)
		if err != nil {
			return nil, err
		}
		for name, o := range cfg.OOBs {
			if fw, ok := versions[name]; ok {
				o.ExpectedFirmwareVersions = fw
				cfg.OOBs[name] = o
			}
		}
	}
	cfg.applyDefaults(func(oob string) bool {
		return v.IsSet("oobs." + oob + ".expected_psus")
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// rawFirmwareVersions reads expected_firmware_versions as written in the file.
// Versions are compared as text, so an unquoted 1.10 must not become 1.1.
func rawFirmwareVersions(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to read configuration file")
	}
	var raw struct {
		OOBs map[string]struct {
			ExpectedFirmwareVersions map[string]string `yaml:"expected_firmware_versions"`
		} `yaml:"oobs"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.ErrConfiguration, "expected_firmware_versions must map components to version strings"),
			map[string]interface{}{"path": path},
		)
	}
	out := make(map[string]map[string]string, len(raw.OOBs))
	for name, o := range raw.OOBs {
		if o.ExpectedFirmwareVersions == nil {
			continue
		}
		fw := make(map[string]string, len(o.ExpectedFirmwareVersions))
		for component, version := range o.ExpectedFirmwareVersions {
			fw[strings.ToLower(component)] = version
		}
		out[strings.ToLower(name)] = fw
	}
	return out, nil
}

// applyDefaults fills unset values. psusSet reports whether a vendor profile
// sets expected_psus, so that an explicit 0 is kept.
func (c *Config) applyDefaults(psusSet func(oob string) bool) {
	if c.FallbackOOB == "" {
		c.FallbackOOB = DefaultFallbackOOB
	}
	for name, d := range c.DCIMs {
		if d.Type == DCIMNetBox && d.NetboxAPITimeout == 0 {
			d.NetboxAPITimeout = defaultNetboxTimeout
		}
		c.DCIMs[name] = d
	}
	for name, o := range c.OOBs {
		if o.ExpectedPSUs == 0 && !psusSet(name) {
			o.ExpectedPSUs = defaultExpectedPSUs
		}
		c.OOBs[name] = o
	}
}

// Validate checks the struct constraints of the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, errors.ErrConfiguration, "invalid configuration")
	}
	for name, d := range c.DCIMs {
		if d.Type == DCIMNetBox && d.NetboxURL == "" {
			return errors.Newf(errors.ErrConfiguration, "inventory source %q: netbox_url is required", name)
		}
	}
	if c.DefaultDCIM != "" {
		if _, err := c.DCIM(c.DefaultDCIM); err != nil {
			return err
		}
	}
	return nil
}

// DCIM returns the configuration of the named inventory source. The direct and
// local sources need no configuration and are always available.
func (c *Config) DCIM(name string) (DCIMConfig, error) {
	if name == "" {
		name = c.DefaultDCIM
	}
	if d, ok := c.DCIMs[name]; ok {
		return d, nil
	}
	switch name {
	case DCIMDirect, DCIMLocal:
		return DCIMConfig{Type: name}, nil
	case "":
		return DCIMConfig{}, errors.New(errors.ErrConfiguration, "no inventory source selected and no default_dcim configured")
	}
	return DCIMConfig{}, errors.Newf(errors.ErrConfiguration, "no configuration for inventory source %q", name)
}

// Driver maps a vendor name to the driver that handles it, honouring overrides.
// known reports whether a dedicated driver exists for a name.
func (c *Config) Driver(vendor string, known func(string) bool) string {
	vendor = strings.ToLower(vendor)
	if target, ok := c.OOBOverrides[vendor]; ok {
		vendor = strings.ToLower(target)
	}
	if known(vendor) {
		return vendor
	}
	return c.FallbackOOB
}

// OOB returns the profile of a vendor, falling back to the profile of the fallback driver.
func (c *Config) OOB(vendor string) OOBConfig {
	vendor = strings.ToLower(vendor)
	if o, ok := c.OOBs[vendor]; ok {
		return o
	}
	if target, ok := c.OOBOverrides[vendor]; ok {
		if o, ok := c.OOBs[target]; ok {
			return o
		}
	}
	if o, ok := c.OOBs[c.FallbackOOB]; ok {
		return o
	}
	return OOBConfig{ExpectedPSUs: defaultExpectedPSUs}
}

// Sample renders an annotated example configuration.
func Sample() (string, error) {
	sample := Config{
		DefaultDCIM:  "netbox",
		FallbackOOB:  DefaultFallbackOOB,
		OOBOverrides: map[string]string{"hp": "base"},
		DCIMs: map[string]DCIMConfig{
			"netbox": {
				Type:                    DCIMNetBox,
				NetboxURL:               "https://netbox.example.com/",
				NetboxAPIToken:          "2eaf86dcfec8f43d59a7ae89d337ebb3fe7fe4e3",
				NetboxAPITimeout:        defaultNetboxTimeout,
				NetboxSessionKey:        "Se/wfMUmhfq5el3XA8asorsfArQ=",
				NetboxCredentialsSecret: "ipmi-credentials",
				NetboxDeviceTypeIDs:     []int{1, 32},
			},
			"local": {Type: DCIMLocal, LocalIPMIAddress: "10.0.0.10"},
		},
		OOBs: map[string]OOBConfig{
			"lenovo": {
				Username:     "admin",
				Password:     "password",
				Credentials:  "ipmi-credentials",
				ExpectedPSUs: 2,
				ExpectedFirmwareVersions: map[string]string{
					"bios":      "1.0.0",
					"tsm":       "1.0.0",
					"psu_delta": "1.3.2",
				},
			},
			"dell": {
				Username:     "root",
				Password:     "calvin",
				HTTPShare:    "http://10.0.0.1/",
				NFSShare:     "10.0.0.1:/exports/dell",
				ExpectedPSUs: 2,
			},
		},
	}

	out, err := yaml.Marshal(&sample)
	if err != nil {
		return "", fmt.Errorf("failed to render sample configuration: %w", err)
	}
	return string(out), nil
}
