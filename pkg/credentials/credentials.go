// Package credentials resolves the identity used to reach a target's BMC.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/log"
)

// Environment variables holding operator overrides.
const (
	EnvUsername  = "BMCMANAGER_USERNAME"
	EnvPassword  = "BMCMANAGER_PASSWORD"
	EnvNFSShare  = "BMCMANAGER_NFS_SHARE"
	EnvHTTPShare = "BMCMANAGER_HTTP_SHARE"
)

// Credentials is the resolved identity for one target. It is never persisted.
type Credentials struct {
	Host      string
	Username  string `validate:"required"`
	Password  string `validate:"required"`
	NFSShare  string
	HTTPShare string
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s", c.Username, c.Host)
}

// GoString redacts the password from %#v as well.
func (c Credentials) GoString() string {
	return fmt.Sprintf("credentials.Credentials{Host:%q, Username:%q, Password:\"******\"}", c.Host, c.Username)
}

// Override holds operator-supplied values. Empty fields are not set.
type Override struct {
	Username  string
	Password  string
	NFSShare  string
	HTTPShare string
}

// FromEnv fills empty fields of o from the BMCMANAGER_* environment variables.
func (o Override) FromEnv() Override {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fill(&o.Username, EnvUsername)
	fill(&o.Password, EnvPassword)
	fill(&o.NFSShare, EnvNFSShare)
	fill(&o.HTTPShare, EnvHTTPShare)
	return o
}

var validate = validator.New()

// Resolver applies the credential resolution order for targets of one inventory source.
type Resolver struct {
	source   dcim.Source
	cfg      *config.Config
	override Override
	log      log.Logger
}

// NewResolver creates a Resolver.
func NewResolver(source dcim.Source, cfg *config.Config, override Override, logger log.Logger) *Resolver {
	return &Resolver{
		source:   source,
		cfg:      cfg,
		override: override,
		log:      log.OrStd(logger).WithName("credentials"),
	}
}

// Resolve returns the credentials of target. Username and password are each taken
// from the first of: the inventory secret store, the operator override, the vendor
// profile. In-band targets need no credentials.
func (r *Resolver) Resolve(ctx context.Context, target *dcim.TargetRecord) (*Credentials, error) {
	profile := r.cfg.OOB(target.Vendor)

	creds := &Credentials{
		Host:      strings.TrimPrefix(target.Address, "https://"),
		NFSShare:  first(r.override.NFSShare, profile.NFSShare),
		HTTPShare: first(r.override.HTTPShare, profile.HTTPShare),
	}

	if target.InBand {
		creds.Host = ""
		return creds, nil
	}

	var secret dcim.Secret
	if r.source.SupportsSecrets() && target.SupportsSecrets && profile.Credentials != "" {
		s, err := r.source.GetSecret(ctx, profile.Credentials, target)
		if err != nil {
			// A failing secret store degrades to the remaining sources.
			r.log.Warn("secret lookup failed", "target", target.Name, "role", profile.Credentials, "error", err)
		} else {
			secret = s
		}
	}

	creds.Username = first(secret.Username, r.override.Username, profile.Username)
	creds.Password = first(secret.Password, r.override.Password, profile.Password)

	if err := validate.Struct(creds); err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.ErrCredential, "no credentials available"),
			map[string]interface{}{"target": target.Name, "vendor": target.Vendor},
		)
	}

	r.log.Debug("resolved credentials", "target", target.Name, "credentials", creds.String())
	return creds, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
