package build

import (
	"bufio"
	"context"
	"errors"
	"log"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/utils/retry"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

const (
	// value of k8s.LabelCategory of builder pods
	CategorySlugBuilder = "slug-builder"

	// label to tell the build process of a builder pod
	LabelBuildProcess = "paas.bk.tencent.com/build-process-id"

	builderContainer = "builder"
)

// PodName returns the name of the builder pod of the workload app.
//
// A workload app has at most one builder pod at a time.
func PodName(wlApp string) string {
	return wlApp + "-slug-pod"
}

// PodBackend runs builders as pods in the cluster.
//
// Builder pods are placed in the namespace named after the workload app.
type PodBackend struct {
	cluster       k8s.Cluster
	conf          *platform.BuildConfig
	backoff       func() retry.Backoff
	watchInterval time.Duration
	logger        *log.Logger
}

var _ Backend = &PodBackend{}

type PodOption func(*PodBackend) *PodBackend

func WithPodLogger(logger *log.Logger) PodOption {
	return func(p *PodBackend) *PodBackend {
		p.logger = logger
		return p
	}
}

// WithPolling sets intervals of polling pods and interruption requests.
func WithPolling(pod time.Duration, interruption time.Duration) PodOption {
	return func(p *PodBackend) *PodBackend {
		p.backoff = func() retry.Backoff { return retry.StaticBackoff(pod) }
		p.watchInterval = interruption
		return p
	}
}

func NewPodBackend(cluster k8s.Cluster, conf *platform.BuildConfig, options ...PodOption) *PodBackend {
	p := &PodBackend{
		cluster:       cluster,
		conf:          conf,
		backoff:       func() retry.Backoff { return retry.StaticBackoff(2 * time.Second) },
		watchInterval: time.Second,
		logger:        log.New(log.Writer(), "[build/pod] ", log.LstdFlags),
	}
	for _, opt := range options {
		p = opt(p)
	}
	return p
}

// Manifest returns the builder pod of the job.
func (p *PodBackend) Manifest(job Job) *kubecore.Pod {
	bp := job.Process
	keys := make([]string, 0, len(job.Env))
	for k := range job.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	env := make([]kubecore.EnvVar, 0, len(keys))
	for _, k := range keys {
		env = append(env, kubecore.EnvVar{Name: k, Value: job.Env[k]})
	}

	pullSecrets := []kubecore.LocalObjectReference{}
	for _, s := range p.conf.ImagePullSecrets() {
		pullSecrets = append(pullSecrets, kubecore.LocalObjectReference{Name: s})
	}

	return &kubecore.Pod{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      PodName(bp.WorkloadApp),
			Namespace: bp.WorkloadApp,
			Labels: k8s.AppLabels(bp.WorkloadApp, map[string]string{
				k8s.LabelCategory: CategorySlugBuilder,
				LabelBuildProcess: bp.ID,
				k8s.LabelDeployID: bp.DeploymentID,
			}),
		},
		Spec: kubecore.PodSpec{
			RestartPolicy: kubecore.RestartPolicyNever,
			Containers: []kubecore.Container{
				{
					Name:            builderContainer,
					Image:           bp.BuilderImage,
					ImagePullPolicy: kubecore.PullAlways,
					Env:             env,
				},
			},
			NodeSelector:     p.conf.NodeSelector(),
			Tolerations:      p.conf.Tolerations(),
			ImagePullSecrets: pullSecrets,
		},
	}
}

// clearStale deletes the builder pod left by previous builds.
//
// It returns *DuplicateBuild when the pod is running and is not stale yet.
func (p *PodBackend) clearStale(ctx context.Context, namespace, name string) error {
	prom := <-p.cluster.GetPod(
		ctx, retry.StaticBackoff(0), namespace, name,
		func(*kubecore.Pod) error { return nil },
	)
	if prom.Err != nil {
		if k8s.AsNotFound(prom.Err) {
			return nil
		}
		return prom.Err
	}
	existing := prom.Value
	if existing.Phase() == kubecore.PodRunning || existing.Phase() == kubecore.PodPending {
		if started := existing.StartTime(); !started.IsZero() {
			until := started.Add(p.conf.MaxSlugTimeout())
			if time.Now().Before(until) {
				return xe.Wrap(&DuplicateBuild{Pod: name, Until: until})
			}
		}
	}
	p.logger.Printf("deleting stale builder pod %s/%s (phase: %s)", namespace, name, existing.Phase())
	return p.cluster.DeletePod(ctx, namespace, name)
}

// create creates the builder pod and waits it to be running.
//
// Pods being deleted may be still there for a while, so creation is retried on Duplicate.
func (p *PodBackend) create(ctx context.Context, manifest *kubecore.Pod) (k8s.Pod, error) {
	timeout := p.conf.PodWatchdogTimeout()
	deadline := time.Now().Add(timeout)
	ready := k8s.WithCheckpoint(
		k8s.PodHasBeenRunning, deadline,
		&ReadTargetStatusTimeout{Pod: manifest.Name, Timeout: timeout},
	)
	return retry.Blocking(ctx, retry.StaticBackoff(0), func() (k8s.Pod, error) {
		prom := <-p.cluster.NewPod(ctx, p.backoff(), manifest, ready)
		if prom.Err == nil {
			return prom.Value, nil
		}
		if k8s.AsDuplicate(prom.Err) && time.Now().Before(deadline) {
			if err := p.backoff()(ctx); err != nil {
				return nil, err
			}
			return nil, retry.ErrRetry
		}
		return prom.Value, prom.Err
	})
}

func (p *PodBackend) Run(ctx context.Context, job Job) error {
	namespace, name := job.Process.WorkloadApp, PodName(job.Process.WorkloadApp)

	if err := p.cluster.EnsureNamespace(ctx, namespace, k8s.AppLabels(namespace, nil)); err != nil {
		return err
	}
	if err := p.clearStale(ctx, namespace, name); err != nil {
		return err
	}

	pod, err := p.create(ctx, p.Manifest(job))
	if err != nil {
		var timeout *ReadTargetStatusTimeout
		if errors.As(err, &timeout) {
			if err := p.cluster.DeletePod(context.WithoutCancel(ctx), namespace, name); err != nil {
				p.logger.Printf("failed to delete builder pod %s/%s: %v", namespace, name, err)
			}
		}
		return err
	}
	defer func() {
		if err := pod.Close(); err != nil {
			p.logger.Printf("failed to delete builder pod %s/%s: %v", namespace, name, err)
		}
	}()
	if err := job.Output.WriteLine(ctx, output.System, "builder pod "+namespace+"/"+name+" is running"); err != nil {
		p.logger.Printf("failed to write log of build process %s: %v", job.Process.ID, err)
	}

	if err := p.follow(ctx, pod, job); err != nil {
		return err
	}

	// the log stream is closed also when the pod is deleted by interruption.
	if interrupted, err := job.Interrupted(ctx); err != nil {
		return err
	} else if interrupted {
		return xe.Wrap(ErrInterrupted)
	}

	prom := <-p.cluster.GetPod(ctx, p.backoff(), namespace, name, k8s.PodHasBeenFinished)
	if prom.Err != nil {
		if k8s.AsNotFound(prom.Err) {
			if interrupted, err := job.Interrupted(ctx); err == nil && interrupted {
				return xe.Wrap(ErrInterrupted)
			}
		}
		return prom.Err
	}
	finished := prom.Value
	if finished.Phase() == kubecore.PodSucceeded {
		return nil
	}
	code, message, _ := finished.Terminated()
	return xe.Wrap(&PodNotSucceeded{Pod: name, ExitCode: code, Message: message})
}

// follow copies logs of the pod into the output, until the log stream is closed.
//
// Meanwhile, it watches interruption requests and deletes the pod when requested.
func (p *PodBackend) follow(ctx context.Context, pod k8s.Pod, job Job) error {
	logs, err := pod.Log(ctx, builderContainer)
	if err != nil {
		return err
	}
	defer logs.Close()

	eg, egctx := errgroup.WithContext(ctx)
	streaming, done := context.WithCancel(egctx)
	defer done()

	eg.Go(func() error {
		defer done()
		scanner := bufio.NewScanner(logs)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if err := job.Output.WriteLine(ctx, output.Stdout, scanner.Text()); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil && streaming.Err() == nil {
			// the stream is broken. the pod state tells the result.
			p.logger.Printf("log stream of %s/%s is broken: %v", pod.Namespace(), pod.Name(), err)
		}
		return nil
	})

	eg.Go(func() error {
		ticker := time.NewTicker(p.watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-streaming.Done():
				return nil
			case <-ticker.C:
			}
			interrupted, err := job.Interrupted(streaming)
			if err != nil {
				if streaming.Err() != nil {
					return nil
				}
				p.logger.Printf("failed to check interruption of %s: %v", job.Process.ID, err)
				continue
			}
			if !interrupted {
				continue
			}
			if err := job.Output.WriteLine(ctx, output.System, "interruption is requested. stopping the builder"); err != nil {
				p.logger.Printf("failed to write log of build process %s: %v", job.Process.ID, err)
			}
			if err := p.cluster.DeletePod(ctx, pod.Namespace(), pod.Name()); err != nil {
				return err
			}
			// stop reading logs even if the server keeps the stream open.
			logs.Close()
			return nil
		}
	})

	return eg.Wait()
}
