package dcim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/retry"
)

// NetBox reads devices, secrets and custom fields from the NetBox REST API.
type NetBox struct {
	baseURL       string
	token         string
	sessionKey    string
	deviceTypeIDs []int

	client *http.Client
	retry  retry.Config
	log    log.Logger
}

var _ Source = (*NetBox)(nil)

// NewNetBox creates a NetBox source from its configuration.
func NewNetBox(cfg config.DCIMConfig, logger log.Logger) (*NetBox, error) {
	if cfg.NetboxURL == "" {
		return nil, errors.New(errors.ErrConfiguration, "netbox_url is not configured")
	}
	timeout := time.Duration(cfg.NetboxAPITimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NetBox{
		baseURL:       cfg.NetboxURL,
		token:         cfg.NetboxAPIToken,
		sessionKey:    cfg.NetboxSessionKey,
		deviceTypeIDs: cfg.NetboxDeviceTypeIDs,
		client:        &http.Client{Timeout: timeout},
		retry:         retry.DefaultConfig(),
		log:           log.OrStd(logger).WithName("netbox"),
	}, nil
}

type netboxList[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

type netboxDevice struct {
	ID           int            `json:"id"`
	Name         string         `json:"name"`
	DisplayName  string         `json:"display_name"`
	Serial       string         `json:"serial"`
	AssetTag     string         `json:"asset_tag"`
	CustomFields map[string]any `json:"custom_fields"`
	DeviceType   struct {
		Slug         string `json:"slug"`
		Manufacturer struct {
			Slug string `json:"slug"`
		} `json:"manufacturer"`
	} `json:"device_type"`
	Site struct {
		Name string `json:"name"`
	} `json:"site"`
	Status struct {
		Label string `json:"label"`
	} `json:"status"`
}

type netboxSecret struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Plaintext string `json:"plaintext"`
	Role      struct {
		ID   int    `json:"id"`
		Slug string `json:"slug"`
	} `json:"role"`
}

type netboxRef struct {
	ID int `json:"id"`
}

func (n *NetBox) endpoint(path string, params url.Values) (string, error) {
	u, err := url.JoinPath(n.baseURL, path)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrConfiguration, "invalid netbox_url")
	}
	// Trailing slashes matter to the NetBox router.
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u, nil
}

func (n *NetBox) do(ctx context.Context, method, path string, params url.Values, body any, withSessionKey bool, out any) error {
	target, err := n.endpoint(path, params)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return errors.Wrap(err, errors.ErrInvalidInput, "failed to encode request")
		}
	}

	return retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return errors.Wrap(err, errors.ErrInvalidInput, "failed to build request")
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if n.token != "" {
			req.Header.Set("Authorization", "Token "+n.token)
		}
		if withSessionKey && n.sessionKey != "" {
			req.Header.Set("X-Session-Key", n.sessionKey)
		}

		n.log.Debug("netbox request", "method", method, "path", path, "params", params.Encode())
		resp, err := n.client.Do(req)
		if err != nil {
			return retry.NewRetryableError(errors.Wrap(err, errors.ErrConnection, "netbox request failed"))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.NewRetryableError(errors.Wrap(err, errors.ErrConnection, "failed to read netbox response"))
		}

		if resp.StatusCode >= 500 {
			return retry.NewRetryableError(errors.Newf(errors.ErrConnection, "netbox returned %s", resp.Status))
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Newf(errors.ErrNotFound, "netbox returned %s for %s", resp.Status, path)
		}
		if resp.StatusCode >= 300 {
			return errors.WithContext(
				errors.Newf(errors.ErrConnection, "netbox returned %s", resp.Status),
				map[string]interface{}{"body": string(data)},
			)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, errors.ErrDecode, "failed to decode netbox response")
		}
		return nil
	}, n.retry)
}

func (n *NetBox) rackID(ctx context.Context, name string) (int, error) {
	var racks netboxList[netboxRef]
	if err := n.do(ctx, http.MethodGet, "api/dcim/racks", url.Values{"name": {name}}, nil, false, &racks); err != nil {
		return 0, err
	}
	if len(racks.Results) != 1 {
		return 0, errors.Newf(errors.ErrNotFound, "did not find a unique rack named %q", name)
	}
	return racks.Results[0].ID, nil
}

// ListTargets implements Source.
func (n *NetBox) ListTargets(ctx context.Context, filter Filter) ([]*TargetRecord, error) {
	params := url.Values{}
	switch filter.Kind {
	case FilterSerial:
		params.Set("serial", filter.Query)
	case FilterName:
		params.Set("name", filter.Query)
	case FilterRack:
		id, err := n.rackID(ctx, filter.Query)
		if err != nil {
			return nil, err
		}
		params.Set("rack_id", strconv.Itoa(id))
	default:
		params.Set("q", filter.Query)
		for _, id := range n.deviceTypeIDs {
			params.Add("device_type_id", strconv.Itoa(id))
		}
	}
	params.Set("limit", "0")

	var devices netboxList[netboxDevice]
	if err := n.do(ctx, http.MethodGet, "api/dcim/devices", params, nil, false, &devices); err != nil {
		return nil, errors.WithOp(err, "list devices")
	}

	targets := make([]*TargetRecord, 0, len(devices.Results))
	for _, d := range devices.Results {
		targets = append(targets, d.record())
	}
	return targets, nil
}

func (d netboxDevice) record() *TargetRecord {
	fields := d.CustomFields
	if fields == nil {
		fields = map[string]any{}
	}
	t := &TargetRecord{
		ID:              d.ID,
		Name:            d.Name,
		Identifier:      d.Name,
		Vendor:          d.DeviceType.Manufacturer.Slug,
		AssetTag:        d.AssetTag,
		CustomFields:    fields,
		SupportsSecrets: true,
	}
	t.Address = t.Field(FieldIPMI)

	ipmi := t.Address
	if ipmi == "" {
		ipmi = "unknown-address"
	}
	t.Info = map[string]string{
		"id":           strconv.Itoa(d.ID),
		"name":         d.Name,
		"display_name": d.DisplayName,
		"serial":       d.Serial,
		"ipmi":         ipmi,
		"manufacturer": d.DeviceType.Manufacturer.Slug,
		"device_type":  d.DeviceType.Slug,
		"bios":         t.Field(FieldBIOS),
		"tsm":          t.Field(FieldTSM),
		"psu":          t.Field(FieldPSU),
		"site":         d.Site.Name,
		"status":       d.Status.Label,
	}
	return t
}

// SupportsSecrets implements Source.
func (n *NetBox) SupportsSecrets() bool { return true }

// GetSecret implements Source. A missing secret yields an empty Secret.
func (n *NetBox) GetSecret(ctx context.Context, role string, target *TargetRecord) (Secret, error) {
	params := url.Values{"role": {role}, "device": {strings.ToUpper(target.Name)}}
	var secrets netboxList[netboxSecret]
	if err := n.do(ctx, http.MethodGet, "api/secrets/secrets", params, nil, true, &secrets); err != nil {
		return Secret{}, errors.WithOp(err, "get secret")
	}
	if len(secrets.Results) == 0 {
		n.log.Warn("secret not found", "role", role, "device", target.Name)
		return Secret{}, nil
	}
	s := secrets.Results[0]
	return Secret{Username: s.Name, Password: s.Plaintext}, nil
}

func (n *NetBox) secretRoleID(ctx context.Context, slug string) (int, error) {
	var roles netboxList[netboxRef]
	if err := n.do(ctx, http.MethodGet, "api/secrets/secret-roles", url.Values{"slug": {slug}}, nil, false, &roles); err != nil {
		return 0, err
	}
	if len(roles.Results) == 0 {
		return 0, errors.Newf(errors.ErrNotFound, "unknown secret role %q", slug)
	}
	return roles.Results[0].ID, nil
}

// SetSecret implements Source.
func (n *NetBox) SetSecret(ctx context.Context, role string, target *TargetRecord, name, plaintext string) error {
	roleID, err := n.secretRoleID(ctx, role)
	if err != nil {
		return errors.WithOp(err, "set secret")
	}

	var existing netboxList[netboxSecret]
	if err := n.do(ctx, http.MethodGet, "api/secrets/secrets", url.Values{"device": {target.Name}}, nil, true, &existing); err != nil {
		return errors.WithOp(err, "set secret")
	}

	body := map[string]any{
		"device":    target.ID,
		"role":      roleID,
		"name":      name,
		"plaintext": plaintext,
	}

	method, path := http.MethodPost, "api/secrets/secrets"
	for _, s := range existing.Results {
		if s.Role.Slug == role && s.Name == name {
			method, path = http.MethodPatch, fmt.Sprintf("api/secrets/secrets/%d", s.ID)
			break
		}
	}

	n.log.Info("upserting secret", "role", role, "device", target.Name, "method", method)
	return errors.WithOp(n.do(ctx, method, path, nil, body, true, nil), "set secret")
}

// SetCustomFields implements Source.
func (n *NetBox) SetCustomFields(ctx context.Context, target *TargetRecord, fields map[string]any) (bool, error) {
	path := fmt.Sprintf("api/dcim/devices/%d", target.ID)
	if err := n.do(ctx, http.MethodPatch, path, nil, map[string]any{"custom_fields": fields}, false, nil); err != nil {
		return false, errors.WithOp(err, "set custom fields")
	}
	return true, nil
}

// URL implements Source.
func (n *NetBox) URL(target *TargetRecord) (string, error) {
	return n.endpoint(fmt.Sprintf("dcim/devices/%d", target.ID), nil)
}
