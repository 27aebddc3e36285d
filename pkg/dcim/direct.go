package dcim

import (
	"context"

	"github.com/davidroman0O/bmcmanager/errors"
)

// Direct treats the filter query as the BMC address of a single target.
type Direct struct {
	noSecrets
	vendor string
}

var _ Source = (*Direct)(nil)

// NewDirect returns a Direct source whose targets have the given vendor.
func NewDirect(vendor string) *Direct {
	return &Direct{vendor: vendor}
}

// ListTargets implements Source.
func (d *Direct) ListTargets(_ context.Context, filter Filter) ([]*TargetRecord, error) {
	if filter.Query == "" {
		return nil, errors.New(errors.ErrInvalidInput, "a BMC address is required")
	}
	return []*TargetRecord{{
		Name:         filter.Query,
		Identifier:   filter.Query,
		Address:      filter.Query,
		Vendor:       d.vendor,
		AssetTag:     "unknown",
		CustomFields: map[string]any{},
		Info:         map[string]string{"ipmi": filter.Query},
	}}, nil
}

// URL implements Source.
func (d *Direct) URL(target *TargetRecord) (string, error) {
	return target.Address, nil
}
