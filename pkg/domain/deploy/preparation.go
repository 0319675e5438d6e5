package deploy

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/TencentBlueKing/bkpaas/pkg/blob"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/addon"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// SourceFetcher places source files of a version into a directory.
type SourceFetcher interface {
	Fetch(ctx context.Context, t configvar.Target, version domain.SourceVersion, dir string) error
}

// PackageFetcher fetches source packages uploaded into the blob store.
type PackageFetcher struct {
	store blob.Store
}

var _ SourceFetcher = &PackageFetcher{}

func NewPackageFetcher(store blob.Store) *PackageFetcher {
	return &PackageFetcher{store: store}
}

func (p *PackageFetcher) Fetch(ctx context.Context, t configvar.Target, version domain.SourceVersion, dir string) error {
	body, err := p.store.Get(ctx, blob.PackageKey(t.App.Region, t.App.Code, t.Module.Name, version.Name))
	if err != nil {
		return err
	}
	defer body.Close()
	if err := blob.Unpack(ctx, body, dir); err != nil {
		return xe.Wrap(domerr.Invalid("source_package", "package %s can not be extracted: %s", version.Name, xe.Root(err)))
	}
	return nil
}

// ManifestApplier writes declarations from source into the module. *bkapp.Service implements this.
type ManifestApplier interface {
	ApplyManifest(ctx context.Context, moduleID string, source bkapp.Source, m bkapp.Manifest) (bkapp.Applied, error)
}

// Provisioner provisions add-on instances of an environment. *addon.Engine implements this.
type Provisioner interface {
	EnsureProvisioned(ctx context.Context, t addon.Target) error
}

// Preparation gets the source ready to be built, and add-ons ready to be used.
//
// All steps run in a single tick. Interruption is checked between steps,
// so steps which have been done are not undone.
type Preparation struct {
	sources   SourceFetcher
	store     blob.Store
	manifests ManifestApplier
	addons    Provisioner
}

var _ Runner = &Preparation{}

func NewPreparation(sources SourceFetcher, store blob.Store, manifests ManifestApplier, addons Provisioner) *Preparation {
	return &Preparation{
		sources:   sources,
		store:     store,
		manifests: manifests,
		addons:    addons,
	}
}

func (p *Preparation) Tick(ctx context.Context, run Run) (Result, error) {
	if run.Target.Module.BuildConfig.Method != domain.BuildMethodCustomImage {
		if err := p.prepareSource(ctx, run); err != nil {
			return Result{}, err
		}
		if err := checkInterruption(ctx, run); err != nil {
			return Result{}, err
		}
	}

	if err := run.Output.WriteLine(ctx, output.System, "Provisioning add-on instances"); err != nil {
		return Result{}, err
	}
	t := run.Target
	if err := p.addons.EnsureProvisioned(ctx, addon.Target{App: t.App, Module: t.Module, Env: t.Env}); err != nil {
		return Result{}, err
	}
	if err := run.Output.WriteLine(ctx, output.System, "Add-on instances are ready"); err != nil {
		return Result{}, err
	}
	return Succeeded(), nil
}

func checkInterruption(ctx context.Context, run Run) error {
	interrupted, err := run.Interrupted(ctx)
	if err != nil {
		return err
	}
	if interrupted {
		return xe.Wrap(ErrInterrupted)
	}
	return nil
}

// prepareSource fetches and packs the source, syncs processes declared there, and uploads the package.
func (p *Preparation) prepareSource(ctx context.Context, run Run) error {
	d, t := run.Deployment, run.Target

	workdir, err := os.MkdirTemp("", "bkpaas-source-*")
	if err != nil {
		return xe.Wrap(err)
	}
	defer os.RemoveAll(workdir)

	if err := run.Output.WriteLine(ctx, output.System, "Parsing process info"); err != nil {
		return err
	}
	if err := p.sources.Fetch(ctx, t, d.Source, workdir); err != nil {
		return err
	}
	spool, err := os.CreateTemp("", "bkpaas-source-*.tar.gz")
	if err != nil {
		return xe.Wrap(err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()
	if err := blob.Pack(ctx, workdir, spool); err != nil {
		return err
	}
	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return xe.Wrap(err)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return xe.Wrap(err)
	}
	if err := p.syncProcesses(ctx, run, spool); err != nil {
		return err
	}
	if err := run.Output.WriteLine(ctx, output.System, "Process info is parsed"); err != nil {
		return err
	}
	if err := checkInterruption(ctx, run); err != nil {
		return err
	}

	if err := run.Output.WriteLine(ctx, output.System, "Uploading source code"); err != nil {
		return err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return xe.Wrap(err)
	}
	key := blob.SourceKey(t.App.Region, t.App.Code, t.Module.Name, d.ID)
	if err := p.store.Put(ctx, key, spool, size); err != nil {
		return err
	}
	return run.Output.WriteLine(ctx, output.System, "Source code is uploaded")
}

// syncProcesses applies the module description found in the source package.
//
// Packages without descriptions keep processes declared on the platform.
func (p *Preparation) syncProcesses(ctx context.Context, run Run, pkg io.Reader) error {
	desc, err := bkapp.ReadAppDesc(pkg, run.Deployment.Options.SourceDir)
	if errors.Is(err, bkapp.ErrAppDescNotFound) {
		return run.Output.WriteLine(
			ctx, output.System, "No app description is found. Processes declared on the platform are used",
		)
	}
	if err != nil {
		return err
	}

	module, ok := desc.Module(run.Target.Module.Name)
	if !ok && len(desc.Modules) == 1 && run.Target.Module.IsDefault {
		module, ok = desc.Modules[0], true
	}
	if !ok {
		return xe.Wrap(domerr.Invalid(
			"app_desc", "module %s is not described in the app description", run.Target.Module.Name,
		))
	}

	applied, err := p.manifests.ApplyManifest(ctx, run.Target.Module.ID, bkapp.SourceAppDesc, module.Manifest)
	if err != nil {
		return err
	}
	for _, f := range applied.Skipped {
		if err := run.Output.WriteLine(
			ctx, output.System, "Field "+f.String()+" is managed on the platform, so it is not changed",
		); err != nil {
			return err
		}
	}
	return nil
}
