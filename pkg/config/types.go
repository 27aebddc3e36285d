// Package config holds the bmcmanager configuration: inventory sources, vendor
// profiles and the mapping from hardware vendors to drivers.
package config

// Inventory source types.
const (
	DCIMNetBox = "netbox"
	DCIMDirect = "direct"
	DCIMLocal  = "local"
)

// Config is the complete configuration, built once at start-up.
type Config struct {
	// DefaultDCIM names the inventory source used when none is given on the command line.
	DefaultDCIM string `yaml:"default_dcim" mapstructure:"default_dcim"`

	// FallbackOOB is the driver used for vendors without a dedicated driver.
	FallbackOOB string `yaml:"fallback_oob" mapstructure:"fallback_oob"`

	// OOBOverrides maps a vendor to the driver that should handle it, e.g. hp: base.
	OOBOverrides map[string]string `yaml:"oob_overrides,omitempty" mapstructure:"oob_overrides"`

	// DCIMs holds the configured inventory sources by name.
	DCIMs map[string]DCIMConfig `yaml:"dcims,omitempty" mapstructure:"dcims" validate:"dive"`

	// OOBs holds per-vendor profiles.
	OOBs map[string]OOBConfig `yaml:"oobs,omitempty" mapstructure:"oobs" validate:"dive"`
}

// DCIMConfig configures a single inventory source.
type DCIMConfig struct {
	Type string `yaml:"type" mapstructure:"type" validate:"required,oneof=netbox direct local"`

	NetboxURL               string `yaml:"netbox_url,omitempty" mapstructure:"netbox_url" validate:"omitempty,url"`
	NetboxAPIToken          string `yaml:"netbox_api_token,omitempty" mapstructure:"netbox_api_token"`
	NetboxAPITimeout        int    `yaml:"netbox_api_timeout,omitempty" mapstructure:"netbox_api_timeout" validate:"gte=0"`
	NetboxSessionKey        string `yaml:"netbox_session_key,omitempty" mapstructure:"netbox_session_key"`
	NetboxCredentialsSecret string `yaml:"netbox_credentials_secret,omitempty" mapstructure:"netbox_credentials_secret"`
	NetboxDeviceTypeIDs     []int  `yaml:"netbox_device_type_ids,omitempty" mapstructure:"netbox_device_type_ids"`

	LocalIPMIAddress string `yaml:"local_ipmi_address,omitempty" mapstructure:"local_ipmi_address"`
}

// OOBConfig is the profile of one hardware vendor.
type OOBConfig struct {
	// Username and Password are the static default BMC credentials.
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`

	// Credentials names the inventory secret role holding the BMC credentials.
	Credentials string `yaml:"credentials,omitempty" mapstructure:"credentials"`

	HTTPShare string `yaml:"http_share,omitempty" mapstructure:"http_share" validate:"omitempty,url"`
	NFSShare  string `yaml:"nfs_share,omitempty" mapstructure:"nfs_share"`

	ExpectedPSUs             int               `yaml:"expected_psus" mapstructure:"expected_psus" validate:"gte=0"`
	ExpectedFirmwareVersions map[string]string `yaml:"expected_firmware_versions,omitempty" mapstructure:"expected_firmware_versions"`
}
