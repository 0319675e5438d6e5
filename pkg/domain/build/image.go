package build

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/build/db"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// RegistryCredentials looks up credentials of image registries registered to applications.
type RegistryCredentials interface {
	RegistryCredential(ctx context.Context, appID string, name string) (username string, password string, err error)
}

// ImageResolver records builds of modules built from custom images.
//
// Images are not built. Their digests are resolved from registries.
type ImageResolver struct {
	db          kdb.Interface
	credentials RegistryCredentials
	options     []remote.Option
}

type ImageResolverOption func(*ImageResolver) *ImageResolver

// WithRegistryCredentials authenticates registries with credentials named in build configs.
func WithRegistryCredentials(c RegistryCredentials) ImageResolverOption {
	return func(i *ImageResolver) *ImageResolver {
		i.credentials = c
		return i
	}
}

// WithTransport sets the transport to talk to registries.
func WithTransport(t http.RoundTripper) ImageResolverOption {
	return func(i *ImageResolver) *ImageResolver {
		i.options = append(i.options, remote.WithTransport(t))
		return i
	}
}

func NewImageResolver(db kdb.Interface, options ...ImageResolverOption) *ImageResolver {
	i := &ImageResolver{db: db}
	for _, opt := range options {
		i = opt(i)
	}
	return i
}

// ReferenceOf returns the reference of the image repository with tag (or digest, like "sha256:...").
func ReferenceOf(repository string, tag string) (name.Reference, error) {
	sep := ":"
	if strings.HasPrefix(tag, "sha256:") {
		sep = "@"
	}
	ref, err := name.ParseReference(repository + sep + tag)
	if err != nil {
		return nil, xe.Wrap(domerr.Invalid("image", "%s%s%s is not an image reference: %v", repository, sep, tag, err))
	}
	return ref, nil
}

// Resolve resolves the digest of the image of the module tagged with tag, and records it as the latest build.
func (i *ImageResolver) Resolve(ctx context.Context, target configvar.Target, tag string) (domain.Build, error) {
	conf := target.Module.BuildConfig
	if conf.Method != domain.BuildMethodCustomImage {
		return domain.Build{}, xe.Wrap(domerr.Invalid("build_method", "module %s is not built from custom images", target.Module.Name))
	}
	ref, err := ReferenceOf(conf.ImageRepository, tag)
	if err != nil {
		return domain.Build{}, err
	}

	options := append([]remote.Option{remote.WithContext(ctx)}, i.options...)
	if conf.ImageCredentialName != "" && i.credentials != nil {
		username, password, err := i.credentials.RegistryCredential(ctx, target.App.ID, conf.ImageCredentialName)
		if err != nil {
			return domain.Build{}, err
		}
		options = append(options, remote.WithAuth(&authn.Basic{Username: username, Password: password}))
	}

	desc, err := remote.Head(ref, options...)
	if err != nil {
		return domain.Build{}, classifyRegistry(ref, err)
	}
	digest := desc.Digest.String()

	return i.db.NewBuild(ctx, domain.Build{
		ModuleID:     target.Module.ID,
		WorkloadApp:  target.Env.WorkloadApp,
		ArtifactType: domain.ArtifactImage,
		Image:        ref.Name(),
		Revision:     digest,
		Branch:       tag,
		Metadata:     domain.BuildMetadata{ImageDigest: digest},
	})
}

func classifyRegistry(ref name.Reference, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.StatusCode {
		case http.StatusNotFound:
			return xe.Wrap(domerr.Missing{Table: "registry " + ref.Context().RegistryStr(), Identity: ref.Name()})
		case http.StatusUnauthorized, http.StatusForbidden:
			return xe.Wrap(domerr.Precondition("image %s can not be pulled with the credential: %v", ref.Name(), err))
		}
		retryable := terr.StatusCode >= 500 || terr.StatusCode == http.StatusTooManyRequests
		return xe.Wrap(&domerr.Upstream{Service: "registry " + ref.Context().RegistryStr(), Retryable: retryable, Cause: err})
	}
	return xe.Wrap(&domerr.Upstream{Service: "registry " + ref.Context().RegistryStr(), Retryable: true, Cause: err})
}
