package deploy_test

import (
	"slices"
	"testing"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/deploy"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
)

func TestStepsFor(t *testing.T) {
	type expect struct {
		preparation []string
		build       []string
		release     []string
	}
	theory := func(module domain.Module, then expect) func(*testing.T) {
		return func(t *testing.T) {
			names := deploy.StepNames(deploy.StepsFor(module))
			if got := names[domain.PhasePreparation]; !slices.Equal(got, then.preparation) {
				t.Errorf("preparation: actual=%v, expect=%v", got, then.preparation)
			}
			if got := names[domain.PhaseBuild]; !slices.Equal(got, then.build) {
				t.Errorf("build: actual=%v, expect=%v", got, then.build)
			}
			if got := names[domain.PhaseRelease]; !slices.Equal(got, then.release) {
				t.Errorf("release: actual=%v, expect=%v", got, then.release)
			}
		}
	}

	t.Run("modules built from source", theory(web, expect{
		preparation: []string{"Parse process info", "Upload source code", "Provision add-on instances"},
		build:       []string{"Initialize build environment", "Build application"},
		release:     []string{"Apply workloads", "Check deployment result"},
	}))
	t.Run("modules with custom images", theory(customImage(web), expect{
		preparation: []string{"Provision add-on instances"},
		build:       []string{"Resolve image"},
		release:     []string{"Apply workloads", "Check deployment result"},
	}))
}

func TestStepMatcher(t *testing.T) {
	testee := deploy.NewStepMatcher(deploy.StepsFor(web)[domain.PhaseBuild])

	for _, step := range []struct {
		line   string
		expect []kdb.StepUpdate
	}{
		{
			line: "Starting build process",
			expect: []kdb.StepUpdate{
				{Name: "Initialize build environment", Status: domain.Pending, Started: true},
			},
		},
		{
			line: "unrelated line",
		},
		{
			line: "builder pod bkapp-shop-stag/bkapp-shop-stag-slug-pod is running",
			expect: []kdb.StepUpdate{
				{Name: "Initialize build environment", Status: domain.Successful, Started: true},
				{Name: "Build application", Status: domain.Pending, Started: true},
			},
		},
		{
			// steps are moved once.
			line: "builder pod bkapp-shop-stag/bkapp-shop-stag-slug-pod is running",
		},
		{
			line: "build succeeded",
			expect: []kdb.StepUpdate{
				{Name: "Build application", Status: domain.Successful, Started: true},
			},
		},
		{
			line: "build succeeded",
		},
	} {
		got := testee.Feed(step.line)
		if !slices.Equal(got, step.expect) {
			t.Errorf("Feed(%q): actual=%+v, expect=%+v", step.line, got, step.expect)
		}
	}
}

func TestStepMatcher_FinishingUnstartedStep(t *testing.T) {
	testee := deploy.NewStepMatcher(deploy.StepsFor(web)[domain.PhaseRelease])

	got := testee.Feed("Processes are ready")
	expect := []kdb.StepUpdate{{Name: "Check deployment result", Status: domain.Successful, Started: true}}
	if !slices.Equal(got, expect) {
		t.Errorf("Feed: actual=%+v, expect=%+v", got, expect)
	}
	if got := testee.Feed("Waiting for processes to be ready"); got != nil {
		t.Errorf("finished steps should not be started again: actual=%+v", got)
	}
}
