package platform

import (
	"regexp"
	"time"

	kubecore "k8s.io/api/core/v1"
)

// PlatformConfig is the immutable configuration of the control plane.
//
// To get an instance, use `Unmarshal`, `LoadPlatformConfig` or `TrySeal`.
type PlatformConfig struct {
	region     string
	server     *ServerConfig
	databases  *DatabasesConfig
	kubernetes *KubernetesConfig
	platform   *BuiltinConfig
	ingress    *IngressConfig
	build      *BuildConfig
	pipeline   *PipelineConfig
	deploy     *DeployConfig
	blobstore  *BlobStoreConfig
	addons     *AddonsConfig
	clusters   []*ClusterConfig
}

// Region where this control plane serves.
func (c *PlatformConfig) Region() string {
	return c.region
}

func (c *PlatformConfig) Server() *ServerConfig {
	return c.server
}

func (c *PlatformConfig) Databases() *DatabasesConfig {
	return c.databases
}

func (c *PlatformConfig) Kubernetes() *KubernetesConfig {
	return c.kubernetes
}

func (c *PlatformConfig) Platform() *BuiltinConfig {
	return c.platform
}

func (c *PlatformConfig) Ingress() *IngressConfig {
	return c.ingress
}

func (c *PlatformConfig) Build() *BuildConfig {
	return c.build
}

// Pipeline returns the configuration of the external pipeline engine.
//
// It is nil when builds run as pods.
func (c *PlatformConfig) Pipeline() *PipelineConfig {
	return c.pipeline
}

func (c *PlatformConfig) Deploy() *DeployConfig {
	return c.deploy
}

func (c *PlatformConfig) BlobStore() *BlobStoreConfig {
	return c.blobstore
}

func (c *PlatformConfig) Addons() *AddonsConfig {
	return c.addons
}

// Cluster looks up a cluster by name.
func (c *PlatformConfig) Cluster(name string) (*ClusterConfig, bool) {
	for _, cl := range c.clusters {
		if cl.name == name {
			return cl, true
		}
	}
	return nil, false
}

// DefaultCluster is the first cluster in the configuration.
func (c *PlatformConfig) DefaultCluster() *ClusterConfig {
	return c.clusters[0]
}

type ServerConfig struct {
	port     int32
	logLevel string
}

func (s *ServerConfig) Port() int32 {
	return s.port
}

// one of debug, info, warn, error or off.
func (s *ServerConfig) LogLevel() string {
	return s.logLevel
}

type DatabasesConfig struct {
	main      string
	workloads string
}

// connection string of the database for the application model.
func (d *DatabasesConfig) Main() string {
	return d.main
}

// connection string of the database for workload apps and builds.
func (d *DatabasesConfig) Workloads() string {
	return d.workloads
}

type KubernetesConfig struct {
	kubeconfig string
	timeout    time.Duration
}

// path to kubeconfig. Empty means the default lookup.
func (k *KubernetesConfig) Kubeconfig() string {
	return k.kubeconfig
}

// timeout of each kubernetes api call.
func (k *KubernetesConfig) Timeout() time.Duration {
	return k.timeout
}

// BuiltinConfig holds values exported to apps as builtin environment variables.
type BuiltinConfig struct {
	loginURL         string
	docsURLPrefix    string
	runnerEntrypoint []string
	appSecretKey     string
	credentialNS     string
}

func (b *BuiltinConfig) LoginURL() string {
	return b.loginURL
}

func (b *BuiltinConfig) DocsURLPrefix() string {
	return b.docsURLPrefix
}

// command which starts processes in slug runner images.
func (b *BuiltinConfig) RunnerEntrypoint() []string {
	return append([]string{}, b.runnerEntrypoint...)
}

// key to derive app secrets. Empty means app secrets are not issued.
func (b *BuiltinConfig) AppSecretKey() []byte {
	return []byte(b.appSecretKey)
}

// namespace of secrets holding registry credentials of applications.
func (b *BuiltinConfig) CredentialNamespace() string {
	return b.credentialNS
}

type IngressConfig struct {
	regexRewrite         bool
	legacyDomainTemplate string
	subdomainRoots       []string
	subpathHosts         []string
	httpsEnabled         bool
	deleteWhenEmpty      bool
	ingressClass         string
	extraAnnotations     map[string]string
}

// RegexRewrite is true when the installed ingress-nginx is 0.22 or later.
func (i *IngressConfig) RegexRewrite() bool {
	return i.regexRewrite
}

// template of legacy default domain. "%s" is replaced with the workload app name.
//
// Empty means legacy ingresses are not managed.
func (i *IngressConfig) LegacyDomainTemplate() string {
	return i.legacyDomainTemplate
}

// root domains where auto-generated subdomains live.
func (i *IngressConfig) SubdomainRoots() []string {
	return append([]string{}, i.subdomainRoots...)
}

// shared hosts where platform subpaths are served.
func (i *IngressConfig) SubpathHosts() []string {
	return append([]string{}, i.subpathHosts...)
}

// whether auto-generated domains and subpaths are served with https.
func (i *IngressConfig) HTTPSEnabled() bool {
	return i.httpsEnabled
}

func (i *IngressConfig) DeleteWhenEmpty() bool {
	return i.deleteWhenEmpty
}

// value of `kubernetes.io/ingress.class`. Empty means "not set".
func (i *IngressConfig) IngressClass() string {
	return i.ingressClass
}

// annotations added to all managed ingresses.
func (i *IngressConfig) ExtraAnnotations() map[string]string {
	ret := map[string]string{}
	for k, v := range i.extraAnnotations {
		ret[k] = v
	}
	return ret
}

type BuildBackend string

const (
	BuildBackendPod      BuildBackend = "pod"
	BuildBackendPipeline BuildBackend = "pipeline"
)

type BuildConfig struct {
	backend            BuildBackend
	slugBuilderImage   string
	slugRunnerImage    string
	cnbBuilderImage    string
	dockerBuilderImage string
	podWatchdogTimeout time.Duration
	maxSlugTimeout     time.Duration
	nodeSelector       map[string]string
	tolerations        []kubecore.Toleration
	imagePullSecrets   []string
	outputRepository   string
}

func (b *BuildConfig) Backend() BuildBackend {
	return b.backend
}

// builder image for slug (legacy buildpack) builds.
func (b *BuildConfig) SlugBuilderImage() string {
	return b.slugBuilderImage
}

// image which runs slugs. It is SlugBuilderImage unless configured.
func (b *BuildConfig) SlugRunnerImage() string {
	return b.slugRunnerImage
}

// builder image for cloud native buildpacks. Empty disables CNB builds.
func (b *BuildConfig) CNBBuilderImage() string {
	return b.cnbBuilderImage
}

// builder image for Dockerfile builds.
func (b *BuildConfig) DockerBuilderImage() string {
	return b.dockerBuilderImage
}

// PodWatchdogTimeout bounds how long the pod backend waits builder pods to be ready.
func (b *BuildConfig) PodWatchdogTimeout() time.Duration {
	return b.podWatchdogTimeout
}

// MaxSlugTimeout is how long a builder pod may run.
//
// Running builder pods younger than this block new builds of the same workload app.
func (b *BuildConfig) MaxSlugTimeout() time.Duration {
	return b.maxSlugTimeout
}

func (b *BuildConfig) NodeSelector() map[string]string {
	ret := map[string]string{}
	for k, v := range b.nodeSelector {
		ret[k] = v
	}
	return ret
}

func (b *BuildConfig) Tolerations() []kubecore.Toleration {
	return append([]kubecore.Toleration{}, b.tolerations...)
}

func (b *BuildConfig) ImagePullSecrets() []string {
	return append([]string{}, b.imagePullSecrets...)
}

// repository prefix where built images are pushed.
func (b *BuildConfig) OutputRepository() string {
	return b.outputRepository
}

type PipelineConfig struct {
	url        string
	token      string
	templateID string
	rateLimit  float64
}

func (p *PipelineConfig) URL() string {
	return p.url
}

func (p *PipelineConfig) Token() string {
	return p.token
}

// id of the pipeline template which runs builds.
func (p *PipelineConfig) TemplateID() string {
	return p.templateID
}

// max requests per second sent to the pipeline engine.
func (p *PipelineConfig) RateLimit() float64 {
	return p.rateLimit
}

type DeployConfig struct {
	pollInterval   time.Duration
	pollingTimeout map[string]time.Duration
	heartbeat      time.Duration
	tips           []Tip
}

// interval of polling ticks in deploy phases.
func (d *DeployConfig) PollInterval() time.Duration {
	return d.pollInterval
}

// PollingTimeout is the maximum wall clock time of a phase.
func (d *DeployConfig) PollingTimeout(phase string) time.Duration {
	return d.pollingTimeout[phase]
}

// Heartbeat is how long a started phase may be silent before it is declared failed.
func (d *DeployConfig) Heartbeat() time.Duration {
	return d.heartbeat
}

func (d *DeployConfig) Tips() []Tip {
	return append([]Tip{}, d.tips...)
}

// Tip links failures matching Pattern to a document.
type Tip struct {
	Pattern *regexp.Regexp
	URL     string
}

type BlobStoreConfig struct {
	bucket        string
	region        string
	endpoint      string
	usePathStyle  bool
	presignExpiry time.Duration
}

func (b *BlobStoreConfig) Bucket() string {
	return b.bucket
}

func (b *BlobStoreConfig) Region() string {
	return b.region
}

// Empty means the AWS default endpoint.
func (b *BlobStoreConfig) Endpoint() string {
	return b.endpoint
}

func (b *BlobStoreConfig) UsePathStyle() bool {
	return b.usePathStyle
}

// how long signed download urls are valid.
func (b *BlobStoreConfig) PresignExpiry() time.Duration {
	return b.presignExpiry
}

type AddonsConfig struct {
	encryptionKey [32]byte
	brokers       []*BrokerConfig
}

// key to encrypt credentials of service instances.
func (a *AddonsConfig) EncryptionKey() [32]byte {
	return a.encryptionKey
}

func (a *AddonsConfig) Brokers() []*BrokerConfig {
	return append([]*BrokerConfig{}, a.brokers...)
}

type BrokerConfig struct {
	name      string
	url       string
	jwtSecret []byte
	jwtIssuer string
	timeout   time.Duration
}

// name of the broker. services whose provider is this name are served by this broker.
func (b *BrokerConfig) Name() string {
	return b.name
}

func (b *BrokerConfig) URL() string {
	return b.url
}

func (b *BrokerConfig) JWTSecret() []byte {
	return append([]byte{}, b.jwtSecret...)
}

func (b *BrokerConfig) JWTIssuer() string {
	return b.jwtIssuer
}

func (b *BrokerConfig) Timeout() time.Duration {
	return b.timeout
}

type ClusterConfig struct {
	name          string
	egressIPs     []string
	digestVersion string
}

func (c *ClusterConfig) Name() string {
	return c.name
}

// outbound IPs of the cluster. Empty when unknown.
func (c *ClusterConfig) EgressIPs() []string {
	return append([]string{}, c.egressIPs...)
}

func (c *ClusterConfig) DigestVersion() string {
	return c.digestVersion
}
