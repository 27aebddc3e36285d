// Package dcim reads target machines from an inventory source (NetBox, the command
// line, or the local host) and writes discovered facts back to it.
package dcim

import (
	"context"
	"fmt"
	"strings"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/log"
)

// Custom field names shared with the inventory.
const (
	FieldIPMI = "IPMI"
	FieldBIOS = "BIOS"
	FieldTSM  = "TSM"
	FieldPSU  = "PSU"
)

// TargetRecord describes one machine. It is created per inventory query and is
// not modified for the rest of the invocation.
type TargetRecord struct {
	ID         int
	Name       string
	Identifier string

	// Address is the BMC management address, possibly prefixed with https://.
	Address  string
	Vendor   string
	AssetTag string

	CustomFields map[string]any
	Info         map[string]string

	// SupportsSecrets reports whether the source can hold this target's BMC credentials.
	SupportsSecrets bool

	// InBand targets are managed from the machine itself, without a LAN session.
	InBand bool
}

// Field returns a custom field as a string, or "" when unset.
func (t *TargetRecord) Field(name string) string {
	v, ok := t.CustomFields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Host returns the management address without a URL scheme.
func (t *TargetRecord) Host() string {
	return strings.TrimPrefix(t.Address, "https://")
}

// FilterKind selects how Filter.Query is matched.
type FilterKind string

const (
	FilterSearch FilterKind = "search"
	FilterName   FilterKind = "name"
	FilterRack   FilterKind = "rack"
	FilterSerial FilterKind = "serial"
)

// ParseFilterKind accepts the filter kinds understood by the command line.
func ParseFilterKind(s string) (FilterKind, error) {
	switch s {
	case "", string(FilterSearch):
		return FilterSearch, nil
	case string(FilterName), "rack-unit":
		return FilterName, nil
	case string(FilterRack):
		return FilterRack, nil
	case string(FilterSerial):
		return FilterSerial, nil
	}
	return "", errors.Newf(errors.ErrInvalidInput, "unknown filter type %q", s)
}

// Filter selects targets from an inventory source.
type Filter struct {
	Query string
	Kind  FilterKind
}

// Secret is a credential pair stored in the inventory.
type Secret struct {
	Username string
	Password string
}

// Source is an inventory of target machines.
type Source interface {
	// ListTargets returns every target matching the filter.
	ListTargets(ctx context.Context, filter Filter) ([]*TargetRecord, error)

	// SupportsSecrets reports whether GetSecret and SetSecret are available.
	SupportsSecrets() bool

	// GetSecret returns the secret stored under role for the target. Either field may be empty.
	GetSecret(ctx context.Context, role string, target *TargetRecord) (Secret, error)

	// SetSecret creates or updates the secret named name under role.
	SetSecret(ctx context.Context, role string, target *TargetRecord, name, plaintext string) error

	// SetCustomFields writes custom fields back. It reports false when the source
	// does not store custom fields.
	SetCustomFields(ctx context.Context, target *TargetRecord, fields map[string]any) (bool, error)

	// URL returns the inventory page of the target.
	URL(target *TargetRecord) (string, error)
}

// Options carries the command line inputs some sources need.
type Options struct {
	// Vendor forces the vendor of targets given directly on the command line.
	Vendor string
}

// New builds the inventory source described by cfg.
func New(cfg config.DCIMConfig, opts Options, logger log.Logger) (Source, error) {
	logger = log.OrStd(logger).WithName("dcim")
	switch cfg.Type {
	case config.DCIMNetBox:
		return NewNetBox(cfg, logger)
	case config.DCIMDirect:
		return NewDirect(opts.Vendor), nil
	case config.DCIMLocal:
		return NewLocal(cfg.LocalIPMIAddress), nil
	}
	return nil, errors.Newf(errors.ErrConfiguration, "unsupported inventory source type %q", cfg.Type)
}

// noSecrets is embedded by sources without a secret store.
type noSecrets struct{}

func (noSecrets) SupportsSecrets() bool { return false }

func (noSecrets) GetSecret(context.Context, string, *TargetRecord) (Secret, error) {
	return Secret{}, errors.New(errors.ErrUnsupported, "inventory source has no secret store")
}

func (noSecrets) SetSecret(context.Context, string, *TargetRecord, string, string) error {
	return errors.New(errors.ErrUnsupported, "inventory source has no secret store")
}

func (noSecrets) SetCustomFields(context.Context, *TargetRecord, map[string]any) (bool, error) {
	return false, nil
}
