package build_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	testctx "github.com/TencentBlueKing/bkpaas/internal/testutils/context"
	"github.com/TencentBlueKing/bkpaas/pkg/cmp"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/build"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	k8smock "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s/mock"
)

// podWorld is a namespace with at most one pod.
type podWorld struct {
	mu      sync.Mutex
	pod     *kubecore.Pod
	created []*kubecore.Pod
	deleted int

	// phase and exit code of the pod after its logs are read.
	finalPhase kubecore.PodPhase
	exitCode   int32
	message    string

	// phase of created pods
	initialPhase kubecore.PodPhase

	logs func() io.ReadCloser
}

func (w *podWorld) install(client *k8smock.MockClient) {
	client.Impl.GetNamespace = func(_ context.Context, name string) (*kubecore.Namespace, error) {
		return &kubecore.Namespace{ObjectMeta: kubeapimeta.ObjectMeta{Name: name}}, nil
	}
	client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.pod == nil {
			return nil, kubeerr.NewNotFound(schema.GroupResource{Resource: "pods"}, name)
		}
		return w.pod.DeepCopy(), nil
	}
	client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.pod != nil {
			return nil, kubeerr.NewAlreadyExists(schema.GroupResource{Resource: "pods"}, pod.Name)
		}
		w.created = append(w.created, pod.DeepCopy())
		p := pod.DeepCopy()
		p.Status.Phase = w.initialPhase
		p.Status.StartTime = &kubeapimeta.Time{Time: time.Now()}
		w.pod = p
		return p.DeepCopy(), nil
	}
	client.Impl.DeletePod = func(context.Context, string, string) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.pod != nil {
			w.deleted++
		}
		w.pod = nil
		return nil
	}
	client.Impl.Log = func(context.Context, string, string, string) (io.ReadCloser, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.pod != nil {
			w.pod.Status.Phase = w.finalPhase
			w.pod.Status.ContainerStatuses = []kubecore.ContainerStatus{{
				Name: "builder",
				State: kubecore.ContainerState{
					Terminated: &kubecore.ContainerStateTerminated{ExitCode: w.exitCode, Message: w.message},
				},
			}}
		}
		return w.logs(), nil
	}
}

func (w *podWorld) Deleted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deleted
}

func staticLogs(text string) func() io.ReadCloser {
	return func() io.ReadCloser { return io.NopCloser(strings.NewReader(text)) }
}

func podJob(out *lines, interrupted *atomic.Bool) build.Job {
	return build.Job{
		Process: domain.BuildProcess{
			ID: "bp-1", WorkloadApp: "bkapp-shop-stag", DeploymentID: "d-1",
			BuilderImage: "bkpaas/slug-builder:v1",
		},
		Env:    map[string]string{"FOO": "bar", "SLUG_URL": "s3://bucket/slug.tar.gz"},
		Output: out,
		Interrupted: func(context.Context) (bool, error) {
			return interrupted.Load(), nil
		},
	}
}

func runningSince(t time.Time) *kubecore.Pod {
	return &kubecore.Pod{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: "bkapp-shop-stag-slug-pod", Namespace: "bkapp-shop-stag"},
		Status: kubecore.PodStatus{
			Phase:     kubecore.PodRunning,
			StartTime: &kubeapimeta.Time{Time: t},
		},
	}
}

func TestPodBackend(t *testing.T) {
	newTestee := func(world *podWorld, watchdog string) *build.PodBackend {
		cluster, client := k8smock.NewCluster()
		world.install(client)
		return build.NewPodBackend(
			cluster, buildConfig(watchdog),
			build.WithPolling(time.Millisecond, time.Millisecond),
			build.WithPodLogger(quiet),
		)
	}

	t.Run("successful build streams logs and deletes the pod", func(t *testing.T) {
		world := &podWorld{
			initialPhase: kubecore.PodRunning,
			finalPhase:   kubecore.PodSucceeded,
			logs:         staticLogs("-----> detecting\n-----> compiling\n"),
		}
		testee := newTestee(world, "10m")
		out := &lines{}

		if err := testee.Run(testctx.WithTest(t), podJob(out, new(atomic.Bool))); err != nil {
			t.Fatal(err)
		}
		expect := []string{
			"builder pod bkapp-shop-stag/bkapp-shop-stag-slug-pod is running",
			"-----> detecting",
			"-----> compiling",
		}
		if !cmp.SliceEq(out.Lines(), expect) {
			t.Errorf("output: actual=%+v, expect=%+v", out.Lines(), expect)
		}
		if world.Deleted() != 1 {
			t.Errorf("deleted pods: actual=%d, expect=1", world.Deleted())
		}

		if len(world.created) != 1 {
			t.Fatalf("created pods: actual=%d, expect=1", len(world.created))
		}
		created := world.created[0]
		if created.Namespace != "bkapp-shop-stag" || created.Name != build.PodName("bkapp-shop-stag") {
			t.Errorf("pod: actual=%s/%s", created.Namespace, created.Name)
		}
		if created.Labels[build.LabelBuildProcess] != "bp-1" {
			t.Errorf("labels: actual=%+v", created.Labels)
		}
		env := created.Spec.Containers[0].Env
		expectEnv := []kubecore.EnvVar{{Name: "FOO", Value: "bar"}, {Name: "SLUG_URL", Value: "s3://bucket/slug.tar.gz"}}
		if !cmp.SliceEq(env, expectEnv) {
			t.Errorf("env: actual=%+v, expect=%+v", env, expectEnv)
		}
		if created.Spec.NodeSelector["role"] != "builder" {
			t.Errorf("node selector: actual=%+v", created.Spec.NodeSelector)
		}
		if !slices.Equal(created.Spec.ImagePullSecrets, []kubecore.LocalObjectReference{{Name: "registry-secret"}}) {
			t.Errorf("image pull secrets: actual=%+v", created.Spec.ImagePullSecrets)
		}
		if created.Spec.RestartPolicy != kubecore.RestartPolicyNever {
			t.Errorf("restart policy: actual=%s", created.Spec.RestartPolicy)
		}
	})

	t.Run("builder exiting with non-zero code", func(t *testing.T) {
		world := &podWorld{
			initialPhase: kubecore.PodRunning,
			finalPhase:   kubecore.PodFailed,
			exitCode:     2,
			message:      "compile error",
			logs:         staticLogs("boom\n"),
		}
		testee := newTestee(world, "10m")

		err := testee.Run(testctx.WithTest(t), podJob(&lines{}, new(atomic.Bool)))
		var pns *build.PodNotSucceeded
		if !errors.As(err, &pns) {
			t.Fatalf("error: actual=%v, expect PodNotSucceeded", err)
		}
		if pns.ExitCode != 2 || pns.Message != "compile error" {
			t.Errorf("error: actual=%+v", pns)
		}
		if !errors.Is(err, domerr.ErrBuilderFailure) {
			t.Errorf("error should be a builder failure: %v", err)
		}
	})

	t.Run("a running builder blocks new builds", func(t *testing.T) {
		world := &podWorld{pod: runningSince(time.Now().Add(-time.Minute))}
		testee := newTestee(world, "10m")

		err := testee.Run(testctx.WithTest(t), podJob(&lines{}, new(atomic.Bool)))
		var dup *build.DuplicateBuild
		if !errors.As(err, &dup) {
			t.Fatalf("error: actual=%v, expect DuplicateBuild", err)
		}
		if !errors.Is(err, build.ErrDuplicateBuild) || !errors.Is(err, domerr.ErrPreconditionFailed) {
			t.Errorf("error should be ErrDuplicateBuild and precondition failure: %v", err)
		}
		if !strings.Contains(err.Error(), "from now") {
			t.Errorf("error should tell remaining time: %v", err)
		}
		if len(world.created) != 0 || world.Deleted() != 0 {
			t.Errorf("pods should not be touched: created=%d, deleted=%d", len(world.created), world.Deleted())
		}
	})

	t.Run("a stale builder is replaced", func(t *testing.T) {
		world := &podWorld{
			pod:          runningSince(time.Now().Add(-time.Hour)),
			initialPhase: kubecore.PodRunning,
			finalPhase:   kubecore.PodSucceeded,
			logs:         staticLogs("ok\n"),
		}
		testee := newTestee(world, "10m")

		if err := testee.Run(testctx.WithTest(t), podJob(&lines{}, new(atomic.Bool))); err != nil {
			t.Fatal(err)
		}
		if len(world.created) != 1 || world.Deleted() != 2 {
			t.Errorf("pods: created=%d (expect 1), deleted=%d (expect 2)", len(world.created), world.Deleted())
		}
	})

	t.Run("builder not ready in time", func(t *testing.T) {
		world := &podWorld{initialPhase: kubecore.PodPending}
		testee := newTestee(world, "20ms")

		err := testee.Run(testctx.WithTest(t), podJob(&lines{}, new(atomic.Bool)))
		var timeout *build.ReadTargetStatusTimeout
		if !errors.As(err, &timeout) {
			t.Fatalf("error: actual=%v, expect ReadTargetStatusTimeout", err)
		}
		if world.Deleted() != 1 {
			t.Errorf("pending pod should be deleted: deleted=%d", world.Deleted())
		}
	})

	t.Run("interruption deletes the builder", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		go pw.Write([]byte("-----> compiling\n"))

		world := &podWorld{
			initialPhase: kubecore.PodRunning,
			finalPhase:   kubecore.PodRunning,
			logs:         func() io.ReadCloser { return pr },
		}
		testee := newTestee(world, "10m")
		interrupted := new(atomic.Bool)
		out := &lines{}
		go func() {
			for len(out.Lines()) == 0 {
				time.Sleep(time.Millisecond)
			}
			interrupted.Store(true)
		}()

		err := testee.Run(testctx.WithTest(t), podJob(out, interrupted))
		if !errors.Is(err, build.ErrInterrupted) {
			t.Errorf("error: actual=%v, expect=%v", err, build.ErrInterrupted)
		}
		if world.Deleted() != 1 {
			t.Errorf("deleted pods: actual=%d, expect=1", world.Deleted())
		}
	})
}
