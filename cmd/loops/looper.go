package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TencentBlueKing/bkpaas/cmd/loops/recurring"
	bkpaas "github.com/TencentBlueKing/bkpaas/pkg"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/deploy"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
	"github.com/TencentBlueKing/bkpaas/pkg/loop"
)

// LoopType is the kind of work a loop process does.
type LoopType string

const (
	Preparation LoopType = LoopType(domain.PhasePreparation)
	Build       LoopType = LoopType(domain.PhaseBuild)
	Release     LoopType = LoopType(domain.PhaseRelease)

	// Recycle returns add-on instances released by deleted environments.
	Recycle LoopType = "recycle"
)

func (l LoopType) String() string {
	return string(l)
}

func AsLoopType(s string) (LoopType, error) {
	switch l := LoopType(s); l {
	case Preparation, Build, Release, Recycle:
		return l, nil
	}
	return "", fmt.Errorf("unknown loop type: %s (should be one of -- preparation|build|release|recycle)", s)
}

type LoggerOptions func(*log.Logger) *log.Logger

func byLogger(l *log.Logger, opt ...LoggerOptions) *log.Logger {
	for _, o := range opt {
		l = o(l)
	}
	return l
}

func Copied() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		return log.New(l.Writer(), l.Prefix(), l.Flags())
	}
}

func WithPrefix(pre string) LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetPrefix(pre)
		return l
	}
}

// monitor logs the start and end of each iteration of task.
func monitor[T any](logger *log.Logger, task loop.Task[T]) loop.Task[T] {
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		timestamp := time.Now()

		logger.Printf("task start: #0x%X: ", counter)
		defer func() {
			logger.Printf(
				"task end: #0x%X (takes %s): %s\n with value = %+v",
				counter, time.Since(timestamp), next, ret,
			)
		}()

		ret, next = task(ctx, t)
		return
	}
}

// LoopManifest determines how the loop should behave.
type LoopManifest struct {
	Type LoopType

	// Policy for the looping
	Policy recurring.Policy
}

// StartLoop runs the loop for manifest.Type until it breaks.
func StartLoop(ctx context.Context, logger *log.Logger, paas bkpaas.Platform, manifest LoopManifest) error {
	if manifest.Type == Recycle {
		return StartRecycleLoop(ctx, logger, paas, manifest)
	}
	return StartPhaseLoop(ctx, logger, paas, domain.PhaseType(manifest.Type), manifest)
}

// StartPhaseLoop drives deployments staying in phase.
func StartPhaseLoop(
	ctx context.Context,
	logger *log.Logger,
	paas bkpaas.Platform,
	phase domain.PhaseType,
	manifest LoopManifest,
) error {
	l := byLogger(logger, Copied(), WithPrefix(fmt.Sprintf("[loops/%s] ", phase)))
	conf := paas.Config().Deploy()

	options := []deploy.CoordinatorOption{deploy.WithCoordinatorLogger(l)}
	if phase == domain.PhaseBuild {
		// build pods and pipelines may hang without writing logs.
		options = append(options, deploy.WithHeartbeat(conf.Heartbeat()))
	}
	coordinator := deploy.NewCoordinator(paas.Deploys(), phase, paas.Runner(phase), conf, options...)

	_, err := loop.Start(
		ctx, coordinator.Seed(),
		monitor(l, recurring.Task[kdb.Cursor](coordinator.Poll).Applied(manifest.Policy)),
	)
	return err
}

// StartRecycleLoop returns unbound add-on instances to their pools, one by one.
func StartRecycleLoop(
	ctx context.Context,
	logger *log.Logger,
	paas bkpaas.Platform,
	manifest LoopManifest,
) error {
	l := byLogger(logger, Copied(), WithPrefix("[loops/recycle] "))
	_, err := loop.Start(
		ctx, "",
		monitor(l, recurring.Task[string](paas.Addons().RecycleNext).Applied(manifest.Policy)),
		loop.WithTimeout(30*time.Second),
	)
	return err
}
