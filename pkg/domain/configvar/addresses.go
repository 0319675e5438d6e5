package configvar

import (
	"encoding/base64"
	"encoding/json"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// KeyServiceAddresses carries addresses of apps declared in svc discovery.
const KeyServiceAddresses = "BKPAAS_SERVICE_ADDRESSES_BKSAAS"

type ServiceAddressKey struct {
	BkAppCode string `json:"bk_app_code"`

	// nil means the default module of the app.
	ModuleName *string `json:"module_name"`
}

type ServiceAddressValue struct {
	Stag string `json:"stag"`
	Prod string `json:"prod"`
}

type ServiceAddress struct {
	Key   ServiceAddressKey   `json:"key"`
	Value ServiceAddressValue `json:"value"`
}

// EncodeServiceAddresses encodes addresses as base64 of a JSON list.
func EncodeServiceAddresses(addrs []ServiceAddress) (string, error) {
	if addrs == nil {
		addrs = []ServiceAddress{}
	}
	b, err := json.Marshal(addrs)
	if err != nil {
		return "", xe.Wrap(err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeServiceAddresses(encoded string) ([]ServiceAddress, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, xe.Wrap(domerr.Invalid(KeyServiceAddresses, "not base64: %s", err))
	}
	addrs := []ServiceAddress{}
	if err := json.Unmarshal(b, &addrs); err != nil {
		return nil, xe.Wrap(domerr.Invalid(KeyServiceAddresses, "not a json list: %s", err))
	}
	return addrs, nil
}

// addressesOf resolves addresses of discovered apps with urls.
func addressesOf(discovery []domain.SvcDiscovery, urls func(appCode, module string) (map[domain.Stage]string, error)) ([]ServiceAddress, error) {
	addrs := make([]ServiceAddress, 0, len(discovery))
	for _, d := range discovery {
		u, err := urls(d.BkAppCode, d.ModuleName)
		if err != nil {
			return nil, err
		}
		key := ServiceAddressKey{BkAppCode: d.BkAppCode}
		if d.ModuleName != "" {
			name := d.ModuleName
			key.ModuleName = &name
		}
		addrs = append(addrs, ServiceAddress{
			Key:   key,
			Value: ServiceAddressValue{Stag: u[domain.StageStag], Prod: u[domain.StageProd]},
		})
	}
	return addrs, nil
}
