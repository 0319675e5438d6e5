package bkpaas

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TencentBlueKing/bkpaas/pkg/blob"
	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/twophase"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/addon"
	addonpg "github.com/TencentBlueKing/bkpaas/pkg/domain/addon/db/postgres"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/application"
	appdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	apppg "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db/postgres"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp"
	fieldpg "github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp/db/postgres"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/build"
	buildpg "github.com/TencentBlueKing/bkpaas/pkg/domain/build/db/postgres"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	varpg "github.com/TencentBlueKing/bkpaas/pkg/domain/configvar/db/postgres"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/deploy"
	deploypg "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db/postgres"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/ingress"
	ingresspg "github.com/TencentBlueKing/bkpaas/pkg/domain/ingress/db/postgres"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	outputpg "github.com/TencentBlueKing/bkpaas/pkg/domain/output/db/postgres"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/kubeutil"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

// Platform is the control plane attached to its databases, the blob store and the cluster.
type Platform interface {
	Config() *platform.PlatformConfig
	Cluster() k8s.Cluster
	Store() blob.Store

	Apps() *application.Service
	ConfigVars() *configvar.Service
	Addons() *addon.Engine
	BkApps() *bkapp.Service
	Builds() *build.Orchestrator
	Deploys() *deploy.Manager
	Ingress() *ingress.Service
	Outputs() *output.Store

	// Runner returns the runner of the deploy phase.
	Runner(phase domain.PhaseType) deploy.Runner
}

type bkPlatform struct {
	config  *platform.PlatformConfig
	cluster k8s.Cluster
	store   blob.Store

	apps       *application.Service
	configvars *configvar.Service
	addons     *addon.Engine
	bkapps     *bkapp.Service
	builds     *build.Orchestrator
	deploys    *deploy.Manager
	ingress    *ingress.Service
	outputs    *output.Store

	runners map[domain.PhaseType]deploy.Runner
}

var _ Platform = &bkPlatform{}

type attachConfig struct {
	registerer prometheus.Registerer
	store      blob.Store
	logger     *log.Logger
}

type Option func(*attachConfig) *attachConfig

// WithRegisterer registers deploy metrics to r. By default, they go to prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *attachConfig) *attachConfig {
		c.registerer = r
		return c
	}
}

// WithStore replaces the blob store, which is S3 by default.
func WithStore(s blob.Store) Option {
	return func(c *attachConfig) *attachConfig {
		c.store = s
		return c
	}
}

// WithLogger sets the logger used by components, with their prefixes.
func WithLogger(l *log.Logger) Option {
	return func(c *attachConfig) *attachConfig {
		c.logger = l
		return c
	}
}

// Attach builds the control plane.
//
// main and workloads are pools of the "main" and "workloads" databases.
func Attach(
	ctx context.Context,
	conf *platform.PlatformConfig,
	clients *kubeutil.Clients,
	main kpool.Pool,
	workloads kpool.Pool,
	options ...Option,
) (Platform, error) {
	ac := &attachConfig{registerer: prometheus.DefaultRegisterer, logger: log.Default()}
	for _, opt := range options {
		ac = opt(ac)
	}
	logger := func(prefix string) *log.Logger {
		return log.New(ac.logger.Writer(), prefix, ac.logger.Flags())
	}

	store := ac.store
	if store == nil {
		s3, err := blob.NewS3(ctx, conf.BlobStore())
		if err != nil {
			return nil, err
		}
		store = s3
	}

	cluster := k8s.AttachCluster(k8s.WrapK8sClient(clients.Clientset))
	index := k8s.NewVersionIndex(clients.Clientset.Discovery())

	appDB := apppg.New(twophase.Pair{Main: main, Workloads: workloads})
	buildDB := buildpg.New(workloads)
	addonDB := addonpg.New(main)
	ingressDB := ingresspg.New(main)

	outputs := output.New(outputpg.New(main))

	// add-ons
	sealer := addon.NewSealer(conf.Addons().EncryptionKey())
	brokers := map[string]addon.Broker{
		addon.ProviderLocal: addon.NewLocalBroker(addonDB, sealer, logger("[addon/local] ")),
	}
	for _, b := range conf.Addons().Brokers() {
		remote, err := addon.NewRemoteBroker(b)
		if err != nil {
			return nil, xe.WrapWithNote("broker "+b.Name(), err)
		}
		brokers[b.Name()] = remote
	}
	addons := addon.NewEngine(addonDB, sealer, brokers, conf, addon.WithLogger(logger("[addon] ")))

	// variables
	builtins := configvar.Builtins{
		Region:        conf.Region(),
		LoginURL:      conf.Platform().LoginURL(),
		DocsURLPrefix: conf.Platform().DocsURLPrefix(),
		URLs: ingress.SubdomainAllocator{
			Roots: conf.Ingress().SubdomainRoots(),
			HTTPS: conf.Ingress().HTTPSEnabled(),
		},
	}
	if key := conf.Platform().AppSecretKey(); len(key) != 0 {
		builtins.Secrets = configvar.DerivedSecrets(key)
	}
	varDB := varpg.New(main)
	resolver := configvar.NewResolver(appDB, varDB, builtins, configvar.WithAddons(addons))
	configvars := configvar.NewService(varDB, resolver, configvar.WithLogger(logger("[configvar] ")))

	entrypoint := conf.Platform().RunnerEntrypoint()
	bkapps := bkapp.NewService(
		appDB, fieldpg.New(main), resolver, entrypoint,
		bkapp.WithAddons(boundAddons{addons: addons, apps: appDB}),
		bkapp.WithTransactor(fieldpg.NewManifests(twophase.Pair{Main: main, Workloads: workloads})),
		bkapp.WithLogger(logger("[bkapp] ")),
	)

	// deployments
	manager := deploy.NewManager(
		deploypg.New(main), appDB, outputs, conf.Deploy(),
		deploy.WithMetrics(deploy.NewMetrics(ac.registerer)),
		deploy.WithLogger(logger("[deploy] ")),
	)

	backend, err := backendOf(conf, cluster, logger("[build] "))
	if err != nil {
		return nil, err
	}
	builds := build.NewOrchestrator(
		buildDB, store, resolver, outputs, backend, conf.Build(), conf.Region(),
		build.WithOutputListeners(manager.BuildOutputListeners),
		build.WithLogger(logger("[build] ")),
	)

	credentials := build.SecretCredentials(cluster, conf.Platform().CredentialNamespace())
	runners := map[domain.PhaseType]deploy.Runner{
		domain.PhasePreparation: deploy.NewPreparation(deploy.NewPackageFetcher(store), store, bkapps, addons),
		domain.PhaseBuild: deploy.NewBuildPhase(
			builds,
			build.NewImageResolver(buildDB, build.WithRegistryCredentials(credentials)),
			deploy.WithBuildPhaseLogger(logger("[deploy/build] ")),
		),
		domain.PhaseRelease: deploy.NewRelease(
			buildDB, cluster, store, conf.Build(), entrypoint,
			deploy.WithCloudNative(bkapps, bkapp.NewClient(clients.Dynamic, index)),
			deploy.WithClassic(appDB, resolver),
			deploy.WithImageCredentials(credentials),
		),
	}

	// routing
	deserializers, serializers := ingress.Transformers(conf.Ingress().RegexRewrite())
	ingresses := k8s.NewManager[ingress.ProcessIngress](
		clients.Dynamic, index, "Ingress", deserializers,
		k8s.WithSerializers(serializers...),
	)
	syncer := ingress.NewSyncer(
		ingresses, ingressDB,
		ingress.NewComposer(ingress.ConfigFrom(conf.Ingress())),
		ingress.NewCertResolver(ingressDB, cluster, ingress.WithCertLogger(logger("[ingress/cert] "))),
		ingress.WithSyncerLogger(logger("[ingress] ")),
	)

	return &bkPlatform{
		config:  conf,
		cluster: cluster,
		store:   store,

		apps:       application.New(appDB, application.WorkloadsOn(cluster), conf.Region(), application.WithLogger(logger("[application] "))),
		configvars: configvars,
		addons:     addons,
		bkapps:     bkapps,
		builds:     builds,
		deploys:    manager,
		ingress: ingress.NewService(
			ingressDB, syncer,
			ingress.WithDeleteWhenEmpty(conf.Ingress().DeleteWhenEmpty()),
			ingress.WithLogger(logger("[ingress] ")),
		),
		outputs: outputs,
		runners: runners,
	}, nil
}

func backendOf(conf *platform.PlatformConfig, cluster k8s.Cluster, logger *log.Logger) (build.Backend, error) {
	switch conf.Build().Backend() {
	case platform.BuildBackendPipeline:
		client, err := build.NewHTTPPipelineClient(conf.Pipeline())
		if err != nil {
			return nil, err
		}
		return build.NewPipelineBackend(client, conf.Pipeline(), build.WithPipelineLogger(logger)), nil
	default:
		return build.NewPodBackend(cluster, conf.Build(), build.WithPodLogger(logger)), nil
	}
}

// boundAddons lists add-ons of modules for BkApps.
type boundAddons struct {
	addons *addon.Engine
	apps   appdb.Interface
}

func (b boundAddons) AddonRefs(ctx context.Context, moduleID string) ([]bkapp.AddonRef, error) {
	bound, err := b.addons.ListBound(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	refs := make([]bkapp.AddonRef, 0, len(bound))
	for _, s := range bound {
		ref := bkapp.AddonRef{Service: s.Service.Name}
		if s.SharedFrom != "" {
			m, err := b.apps.GetModuleByID(ctx, s.SharedFrom)
			if err != nil {
				return nil, err
			}
			ref.SharedFromModule = m.Name
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (p *bkPlatform) Config() *platform.PlatformConfig {
	return p.config
}

func (p *bkPlatform) Cluster() k8s.Cluster {
	return p.cluster
}

func (p *bkPlatform) Store() blob.Store {
	return p.store
}

func (p *bkPlatform) Apps() *application.Service {
	return p.apps
}

func (p *bkPlatform) ConfigVars() *configvar.Service {
	return p.configvars
}

func (p *bkPlatform) Addons() *addon.Engine {
	return p.addons
}

func (p *bkPlatform) BkApps() *bkapp.Service {
	return p.bkapps
}

func (p *bkPlatform) Builds() *build.Orchestrator {
	return p.builds
}

func (p *bkPlatform) Deploys() *deploy.Manager {
	return p.deploys
}

func (p *bkPlatform) Ingress() *ingress.Service {
	return p.ingress
}

func (p *bkPlatform) Outputs() *output.Store {
	return p.outputs
}

func (p *bkPlatform) Runner(phase domain.PhaseType) deploy.Runner {
	return p.runners[phase]
}
