package dcim

import (
	"context"
	"os"

	"github.com/davidroman0O/bmcmanager/errors"
)

// Local is the machine bmcmanager runs on, managed in-band.
type Local struct {
	noSecrets
	address  string
	hostname func() (string, error)
}

var _ Source = (*Local)(nil)

// NewLocal returns the local source. address is the BMC address of this host, if known.
func NewLocal(address string) *Local {
	return &Local{address: address, hostname: os.Hostname}
}

// ListTargets implements Source. The filter is ignored.
func (l *Local) ListTargets(context.Context, Filter) ([]*TargetRecord, error) {
	name, err := l.hostname()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrNotFound, "failed to read hostname")
	}
	return []*TargetRecord{{
		Name:         name,
		Identifier:   name,
		Address:      l.address,
		Vendor:       "unknown",
		CustomFields: map[string]any{},
		Info: map[string]string{
			"name":   name,
			"serial": "N/A",
			"ipmi":   l.address,
			"status": "up",
		},
		InBand: true,
	}}, nil
}

// URL implements Source.
func (l *Local) URL(*TargetRecord) (string, error) {
	return "", errors.New(errors.ErrUnsupported, "the local inventory has no web page")
}
