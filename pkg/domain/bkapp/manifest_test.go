package bkapp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/TencentBlueKing/bkpaas/pkg/cmp"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	appdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	appmock "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db/mock"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp/db"
	kmock "github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp/db/mock"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	cvmock "github.com/TencentBlueKing/bkpaas/pkg/domain/configvar/db/mock"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

func newManifestService(apps *appmock.ApplicationInterface, fields *kmock.FieldManagerInterface) *bkapp.Service {
	resolver := configvar.NewResolver(apps, cvmock.NewConfigVarInterface(), configvar.Builtins{})
	return bkapp.NewService(apps, fields, resolver, nil)
}

func TestService_ApplyManifest_OwnedByWebForm(t *testing.T) {
	ctx := context.Background()
	apps := appmock.NewApplicationInterface()
	apps.Impl.ReplaceProcessSpecs = func(ctx context.Context, moduleID string, specs []domain.ProcessSpec) error {
		return nil
	}
	fields := kmock.InMemory()
	testee := newManifestService(apps, fields)

	// hooks were edited in the web form.
	if err := testee.FieldManager().Take(ctx, module.ID, bkapp.FieldHooks, bkapp.SourceWebForm); err != nil {
		t.Fatal(err)
	}

	t.Run("absent field is kept", func(t *testing.T) {
		applied, err := testee.ApplyManifest(ctx, module.ID, bkapp.SourceAppDesc, bkapp.Manifest{
			Processes: []domain.ProcessSpec{{Name: "web", Command: []string{"./serve"}, TargetReplicas: 1}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if expect := []bkapp.Field{bkapp.FieldProcesses}; !cmp.SliceEq(applied.Written, expect) {
			t.Errorf("written: actual=%+v, expect=%+v", applied.Written, expect)
		}
		if len(applied.Cleared) != 0 || len(applied.Skipped) != 0 {
			t.Errorf("cleared/skipped: actual=%+v / %+v, expect empty", applied.Cleared, applied.Skipped)
		}
		if apps.Calls.DeleteDeployHook.Times() != 0 {
			t.Errorf("hooks should not be deleted: %+v", apps.Calls.DeleteDeployHook)
		}
	})

	t.Run("present field is skipped", func(t *testing.T) {
		applied, err := testee.ApplyManifest(ctx, module.ID, bkapp.SourceAppDesc, bkapp.Manifest{
			Hooks: []domain.DeployHook{{Type: domain.HookPreRelease, Enabled: true, ProcCommand: "echo from-app-desc"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if expect := []bkapp.Field{bkapp.FieldHooks}; !cmp.SliceEq(applied.Skipped, expect) {
			t.Errorf("skipped: actual=%+v, expect=%+v", applied.Skipped, expect)
		}
		if apps.Calls.UpsertDeployHook.Times() != 0 {
			t.Errorf("hooks should not be written: %+v", apps.Calls.UpsertDeployHook)
		}
	})

	owner, err := testee.FieldManager().Owner(ctx, module.ID, bkapp.FieldHooks)
	if err != nil {
		t.Fatal(err)
	}
	if owner != bkapp.SourceWebForm {
		t.Errorf("owner of hooks: actual=%s, expect=%s", owner, bkapp.SourceWebForm)
	}
}

func TestService_ApplyManifest_ClearsOwnField(t *testing.T) {
	ctx := context.Background()
	apps := appmock.NewApplicationInterface()
	apps.Impl.ReplacePresetEnvVars = func(ctx context.Context, moduleID string, vars []domain.PresetEnvVar) error {
		return nil
	}
	testee := newManifestService(apps, kmock.InMemory())

	if _, err := testee.ApplyManifest(ctx, module.ID, bkapp.SourceAppDesc, bkapp.Manifest{
		EnvVars: []domain.PresetEnvVar{{Key: "FOO", Value: "bar", Scope: domain.EnvScopeGlobal}},
	}); err != nil {
		t.Fatal(err)
	}

	applied, err := testee.ApplyManifest(ctx, module.ID, bkapp.SourceAppDesc, bkapp.Manifest{})
	if err != nil {
		t.Fatal(err)
	}
	if expect := []bkapp.Field{bkapp.FieldEnvVars}; !cmp.SliceEq(applied.Cleared, expect) {
		t.Errorf("cleared: actual=%+v, expect=%+v", applied.Cleared, expect)
	}

	calls := apps.Calls.ReplacePresetEnvVars
	if calls.Times() != 2 {
		t.Fatalf("ReplacePresetEnvVars: actual=%d times, expect=2", calls.Times())
	}
	if len(calls[0].Vars) != 1 || len(calls[1].Vars) != 0 {
		t.Errorf("ReplacePresetEnvVars: actual=%+v", calls)
	}

	owner, err := testee.FieldManager().Owner(ctx, module.ID, bkapp.FieldEnvVars)
	if err != nil {
		t.Fatal(err)
	}
	if owner != "" {
		t.Errorf("owner of env_vars: actual=%s, expect none", owner)
	}
}

func TestService_ApplyManifest_Invalid(t *testing.T) {
	ctx := context.Background()
	fields := kmock.NewFieldManagerInterface()
	testee := newManifestService(appmock.NewApplicationInterface(), fields)

	_, err := testee.ApplyManifest(ctx, module.ID, bkapp.SourceAppDesc, bkapp.Manifest{
		EnvVars: []domain.PresetEnvVar{{Key: "1BAD", Value: "x", Scope: domain.EnvScopeGlobal}},
	})
	if !errors.Is(err, domerr.ErrValidation) {
		t.Errorf("error: actual=%v, expect ErrValidation", err)
	}
	if fields.Calls.CompareAndSetFieldManager.Times() != 0 {
		t.Errorf("field managers should not be touched: %+v", fields.Calls.CompareAndSetFieldManager)
	}
}

type fakeTransactor struct {
	apps   *appmock.ApplicationInterface
	fields *kmock.FieldManagerInterface

	committed  int
	rolledBack int
}

func (f *fakeTransactor) InTx(ctx context.Context, fn func(apps appdb.Interface, fields kdb.Interface) error) error {
	if err := fn(f.apps, f.fields); err != nil {
		f.rolledBack++
		return err
	}
	f.committed++
	return nil
}

func TestService_ApplyManifest_InTransaction(t *testing.T) {
	manifest := bkapp.Manifest{
		Processes: []domain.ProcessSpec{{Name: "web", Command: []string{"./serve"}, TargetReplicas: 1}},
		EnvVars:   []domain.PresetEnvVar{{Key: "FOO", Value: "bar", Scope: domain.EnvScopeGlobal}},
	}

	t.Run("writes go through the transaction", func(t *testing.T) {
		ctx := context.Background()
		txApps := appmock.NewApplicationInterface()
		txApps.Impl.ReplaceProcessSpecs = func(context.Context, string, []domain.ProcessSpec) error { return nil }
		txApps.Impl.ReplacePresetEnvVars = func(context.Context, string, []domain.PresetEnvVar) error { return nil }
		tx := &fakeTransactor{apps: txApps, fields: kmock.InMemory()}

		// outside of the transaction, nothing should be written.
		resolver := configvar.NewResolver(appmock.NewApplicationInterface(), cvmock.NewConfigVarInterface(), configvar.Builtins{})
		testee := bkapp.NewService(
			appmock.NewApplicationInterface(), kmock.NewFieldManagerInterface(), resolver, nil,
			bkapp.WithTransactor(tx),
		)

		applied, err := testee.ApplyManifest(ctx, module.ID, bkapp.SourceAppDesc, manifest)
		if err != nil {
			t.Fatal(err)
		}
		if expect := []bkapp.Field{bkapp.FieldProcesses, bkapp.FieldEnvVars}; !cmp.SliceEq(applied.Written, expect) {
			t.Errorf("written: actual=%+v, expect=%+v", applied.Written, expect)
		}
		if tx.committed != 1 || tx.rolledBack != 0 {
			t.Errorf("commit/rollback: actual=%d/%d, expect=1/0", tx.committed, tx.rolledBack)
		}
		if txApps.Calls.ReplaceProcessSpecs.Times() != 1 || txApps.Calls.ReplacePresetEnvVars.Times() != 1 {
			t.Errorf("writes in transaction: actual=%+v / %+v", txApps.Calls.ReplaceProcessSpecs, txApps.Calls.ReplacePresetEnvVars)
		}
	})

	t.Run("a failure rolls back fields written before", func(t *testing.T) {
		ctx := context.Background()
		expect := errors.New("fake error")
		txApps := appmock.NewApplicationInterface()
		txApps.Impl.ReplaceProcessSpecs = func(context.Context, string, []domain.ProcessSpec) error { return nil }
		txApps.Impl.ReplacePresetEnvVars = func(context.Context, string, []domain.PresetEnvVar) error { return expect }
		tx := &fakeTransactor{apps: txApps, fields: kmock.InMemory()}

		resolver := configvar.NewResolver(appmock.NewApplicationInterface(), cvmock.NewConfigVarInterface(), configvar.Builtins{})
		testee := bkapp.NewService(
			appmock.NewApplicationInterface(), kmock.NewFieldManagerInterface(), resolver, nil,
			bkapp.WithTransactor(tx),
		)

		applied, err := testee.ApplyManifest(ctx, module.ID, bkapp.SourceAppDesc, manifest)
		if !errors.Is(err, expect) {
			t.Errorf("error: actual=%v, expect=%v", err, expect)
		}
		if len(applied.Written) != 0 {
			t.Errorf("written: actual=%+v, expect empty", applied.Written)
		}
		if tx.committed != 0 || tx.rolledBack != 1 {
			t.Errorf("commit/rollback: actual=%d/%d, expect=0/1", tx.committed, tx.rolledBack)
		}
	})
}
