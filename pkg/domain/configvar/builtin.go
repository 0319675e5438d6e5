package configvar

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

const (
	KeyAppID            = "BKPAAS_APP_ID"
	KeyAppSecret        = "BKPAAS_APP_SECRET"
	KeyLoginURL         = "BK_LOGIN_URL"
	KeyDocsURLPrefix    = "BK_DOCS_URL_PREFIX"
	KeyPreallocatedURLs = "BKPAAS_DEFAULT_PREALLOCATED_URLS"

	KeyEnvironment  = "BKPAAS_ENVIRONMENT"
	KeyModuleName   = "BKPAAS_APP_MODULE_NAME"
	KeyEngineRegion = "BKPAAS_ENGINE_REGION"
	KeyMajorVersion = "BKPAAS_MAJOR_VERSION"
)

// AppSecrets tells the secret of an app, issued by the auth gateway.
type AppSecrets interface {
	AppSecret(ctx context.Context, appCode string) (string, error)
}

// URLAllocator tells the root URL of a module in each stage, before it is deployed.
type URLAllocator interface {
	PreallocatedURLs(ctx context.Context, appCode string, moduleName string) (map[domain.Stage]string, error)
}

type derivedSecrets struct {
	key []byte
}

// DerivedSecrets issues app secrets as HMAC-SHA256 of app codes.
//
// It stands in for the auth gateway in standalone deployments.
func DerivedSecrets(key []byte) AppSecrets {
	return &derivedSecrets{key: key}
}

func (d *derivedSecrets) AppSecret(_ context.Context, appCode string) (string, error) {
	mac := hmac.New(sha256.New, d.key)
	mac.Write([]byte(appCode))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Builtins provides platform builtin variables.
type Builtins struct {
	Region        string
	LoginURL      string
	DocsURLPrefix string

	Secrets AppSecrets

	// nil when urls are not known until release.
	URLs URLAllocator
}

// platform returns builtin variables derived from the platform and the app.
func (b Builtins) platform(ctx context.Context, t Target, point Point, discovery []domain.SvcDiscovery) (Env, error) {
	env := Env{}
	env.Set(Var{Key: KeyAppID, Value: t.App.Code, Source: SourceBuiltinPlatform})

	if b.Secrets != nil {
		secret, err := b.Secrets.AppSecret(ctx, t.App.Code)
		if err != nil {
			return Env{}, err
		}
		env.Set(Var{Key: KeyAppSecret, Value: secret, Sensitive: true, Source: SourceBuiltinPlatform})
	}
	if b.LoginURL != "" {
		env.Set(Var{Key: KeyLoginURL, Value: b.LoginURL, Source: SourceBuiltinPlatform})
	}
	if b.DocsURLPrefix != "" {
		env.Set(Var{Key: KeyDocsURLPrefix, Value: b.DocsURLPrefix, Source: SourceBuiltinPlatform})
	}

	if point != PointRuntime || b.URLs == nil {
		return env, nil
	}

	urls, err := b.URLs.PreallocatedURLs(ctx, t.App.Code, t.Module.Name)
	if err != nil {
		return Env{}, err
	}
	if len(urls) != 0 {
		encoded, err := json.Marshal(urls)
		if err != nil {
			return Env{}, xe.Wrap(err)
		}
		env.Set(Var{Key: KeyPreallocatedURLs, Value: string(encoded), Source: SourceBuiltinPlatform})
	}

	if len(discovery) != 0 {
		addrs, err := addressesOf(discovery, func(appCode, module string) (map[domain.Stage]string, error) {
			return b.URLs.PreallocatedURLs(ctx, appCode, module)
		})
		if err != nil {
			return Env{}, err
		}
		encoded, err := EncodeServiceAddresses(addrs)
		if err != nil {
			return Env{}, err
		}
		env.Set(Var{Key: KeyServiceAddresses, Value: encoded, Source: SourceBuiltinPlatform})
	}
	return env, nil
}

// runtime returns builtin variables which describe where the process runs.
func (b Builtins) runtime(t Target) Env {
	env := Env{}
	env.Set(Var{Key: KeyEnvironment, Value: string(t.Env.Stage), Source: SourceBuiltinRuntime})
	env.Set(Var{Key: KeyModuleName, Value: t.Module.Name, Source: SourceBuiltinRuntime})
	env.Set(Var{Key: KeyEngineRegion, Value: b.Region, Source: SourceBuiltinRuntime})
	env.Set(Var{Key: KeyMajorVersion, Value: "3", Source: SourceBuiltinRuntime})
	return env
}
