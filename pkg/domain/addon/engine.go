package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/addon/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// ErrCanNotModifyPlan is returned when plans of a binding with provisioned instances are changed.
var ErrCanNotModifyPlan error = domerr.PreconditionFailed{Reason: "plan of provisioned instances can not be modified"}

// ErrSharedByOthers is returned when a binding shared with other modules is unbound.
var ErrSharedByOthers error = domerr.PreconditionFailed{Reason: "the service is shared by other modules"}

// ProviderLocal is the provider of services backed by pre-created instances.
const ProviderLocal = "local"

// ClusterLookup finds configuration of clusters. *platform.PlatformConfig implements this.
type ClusterLookup interface {
	Cluster(name string) (*platform.ClusterConfig, bool)
}

// Target is the environment which instances are provisioned for.
type Target struct {
	App    domain.Application
	Module domain.Module
	Env    domain.Environment
}

// Engine binds add-on services to modules and exports their credentials.
type Engine struct {
	db       kdb.Interface
	sealer   *Sealer
	brokers  map[string]Broker
	clusters ClusterLookup
	logger   *log.Logger

	// background recycling
	recycling sync.WaitGroup
}

type Option func(*Engine) *Engine

func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) *Engine {
		e.logger = logger
		return e
	}
}

// NewEngine returns an Engine.
//
// brokers are keyed by provider names of services. ProviderLocal is used for services without provider.
func NewEngine(db kdb.Interface, sealer *Sealer, brokers map[string]Broker, clusters ClusterLookup, options ...Option) *Engine {
	e := &Engine{
		db:       db,
		sealer:   sealer,
		brokers:  maps.Clone(brokers),
		clusters: clusters,
		logger:   log.New(log.Writer(), "[addon] ", log.LstdFlags),
	}
	for _, opt := range options {
		e = opt(e)
	}
	return e
}

func (e *Engine) brokerOf(service domain.AddonService) (Broker, error) {
	provider := service.Provider
	if provider == "" {
		provider = ProviderLocal
	}
	b, ok := e.brokers[provider]
	if !ok {
		return nil, xe.Wrap(fmt.Errorf("no broker for provider %q of service %s", provider, service.Name))
	}
	return b, nil
}

func (e *Engine) egressInfo(cluster string) string {
	if e.clusters == nil {
		return "{}"
	}
	c, ok := e.clusters.Cluster(cluster)
	if !ok {
		return "{}"
	}
	return EgressInfoJSON(c)
}

func (e *Engine) ListServices(ctx context.Context) ([]domain.AddonService, error) {
	return e.db.ListServices(ctx)
}

// Bound is a service which a module uses.
type Bound struct {
	Service domain.AddonService

	// id of the module owning the instance, when the service is shared. Empty otherwise.
	SharedFrom string
}

// ListBound returns services bound to the module, followed by services shared from others.
func (e *Engine) ListBound(ctx context.Context, moduleID string) ([]Bound, error) {
	bindings, err := e.db.ListBindings(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	shares, err := e.db.ListShares(ctx, moduleID)
	if err != nil {
		return nil, err
	}

	bound := make([]Bound, 0, len(bindings)+len(shares))
	for _, b := range bindings {
		service, err := e.db.GetService(ctx, b.ServiceID)
		if err != nil {
			return nil, err
		}
		bound = append(bound, Bound{Service: service})
	}
	for _, s := range shares {
		service, err := e.db.GetService(ctx, s.ServiceID)
		if err != nil {
			return nil, err
		}
		bound = append(bound, Bound{Service: service, SharedFrom: s.RefModuleID})
	}
	return bound, nil
}

// BindRequest binds a service to a module with all of its environments.
type BindRequest struct {
	App          domain.Application
	Module       domain.Module
	Environments []domain.Environment
	ServiceID    string
}

// Bind selects plans with the binding policy and records the binding.
//
// Environments whose plan is eager are provisioned immediately, in parallel.
// Others are provisioned by EnsureProvisioned on their first deployment.
//
// Binding a service which is bound already returns the existing binding.
func (e *Engine) Bind(ctx context.Context, req BindRequest) (domain.AddonBinding, error) {
	service, err := e.db.GetService(ctx, req.ServiceID)
	if err != nil {
		return domain.AddonBinding{}, err
	}
	if existing, err := e.db.GetBinding(ctx, req.Module.ID, service.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domerr.ErrNotFound) {
		return domain.AddonBinding{}, err
	}
	shares, err := e.db.ListShares(ctx, req.Module.ID)
	if err != nil {
		return domain.AddonBinding{}, err
	}
	for _, s := range shares {
		if s.ServiceID == service.ID {
			return domain.AddonBinding{}, xe.Wrap(domerr.Precondition(
				"module %s shares %s from another module", req.Module.Name, service.Name,
			))
		}
	}

	stored, err := e.db.GetPolicy(ctx, service.ID, req.App.TenantID)
	if err != nil {
		return domain.AddonBinding{}, err
	}
	policy, err := PolicyOf(stored)
	if err != nil {
		return domain.AddonBinding{}, xe.Wrap(err)
	}

	plans := map[domain.Stage]domain.Plan{}
	planIDs := map[domain.Stage]string{}
	for _, env := range req.Environments {
		id, err := policy.SelectPlan(ctx, BindContext{
			AppCode: req.App.Code, Region: req.App.Region, Module: req.Module.Name, Stage: env.Stage,
		})
		if err != nil {
			return domain.AddonBinding{}, xe.Wrap(err)
		}
		plan, ok := service.Plan(id)
		if !ok || !plan.IsActive {
			return domain.AddonBinding{}, xe.Wrap(domerr.Precondition("plan %s of %s is not available", id, service.Name))
		}
		plans[env.Stage] = plan
		planIDs[env.Stage] = id
	}

	binding, attachments, err := e.db.NewBinding(ctx, domain.AddonBinding{
		ModuleID: req.Module.ID, ServiceID: service.ID, PlanIDs: planIDs,
	}, req.Environments)
	if errors.Is(err, domerr.ErrConflict) {
		// bound concurrently
		return e.db.GetBinding(ctx, req.Module.ID, service.ID)
	} else if err != nil {
		return domain.AddonBinding{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, att := range attachments {
		if !plans[att.Stage].IsEager {
			continue
		}
		env, ok := environmentOf(req.Environments, att.EnvironmentID)
		if !ok {
			continue
		}
		g.Go(func() error {
			_, err := e.provision(gctx, Target{App: req.App, Module: req.Module, Env: env}, service, att)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return binding, err
	}
	return binding, nil
}

func environmentOf(envs []domain.Environment, id string) (domain.Environment, bool) {
	for _, env := range envs {
		if env.ID == id {
			return env, true
		}
	}
	return domain.Environment{}, false
}

func (e *Engine) provision(ctx context.Context, t Target, service domain.AddonService, att domain.Attachment) (domain.Attachment, error) {
	plan, ok := service.Plan(att.PlanID)
	if !ok {
		return domain.Attachment{}, xe.Wrap(domerr.Missing{Table: "addon_plan", Identity: att.PlanID})
	}
	broker, err := e.brokerOf(service)
	if err != nil {
		return domain.Attachment{}, err
	}

	prov, err := broker.Provision(ctx, ProvisionRequest{
		Service:     service,
		Plan:        plan,
		AppCode:     t.App.Code,
		Module:      t.Module.Name,
		Stage:       t.Env.Stage,
		WorkloadApp: t.Env.WorkloadApp,
		EgressInfo:  e.egressInfo(t.Env.Cluster),
	})
	if err != nil {
		return domain.Attachment{}, err
	}

	plain, err := json.Marshal(prov.Credentials)
	if err != nil {
		return domain.Attachment{}, xe.Wrap(err)
	}
	sealed, err := e.sealer.Seal(plain)
	if err != nil {
		return domain.Attachment{}, xe.Wrap(err)
	}
	instance := domain.ServiceInstance{
		ID: prov.InstanceID, ServiceID: service.ID, PlanID: plan.ID, Credentials: sealed, Config: prov.Config,
	}
	provisioned, err := e.db.SetInstance(ctx, att.ID, instance)
	if err != nil {
		if errors.Is(err, domerr.ErrConflict) {
			// another worker has provisioned. release ours.
			if derr := broker.Deprovision(context.WithoutCancel(ctx), service, instance); derr != nil {
				e.logger.Printf("failed to release surplus instance %s of %s: %s", instance.ID, service.Name, derr)
			}
		}
		return domain.Attachment{}, err
	}
	e.logger.Printf("%s (plan %s) is provisioned for %s", service.Name, plan.Name, t.Env.WorkloadApp)
	return provisioned, nil
}

// Provision allocates an instance for the attachment.
func (e *Engine) Provision(ctx context.Context, t Target, att domain.Attachment) (domain.Attachment, error) {
	if att.Provisioned() {
		return att, nil
	}
	service, err := e.db.GetService(ctx, att.ServiceID)
	if err != nil {
		return domain.Attachment{}, err
	}
	return e.provision(ctx, t, service, att)
}

// EnsureProvisioned provisions every unprovisioned attachment of the environment.
func (e *Engine) EnsureProvisioned(ctx context.Context, t Target) error {
	atts, err := e.db.ListAttachments(ctx, t.Module.ID, t.Env.Stage)
	if err != nil {
		return err
	}
	for _, att := range atts {
		if att.EnvironmentID != t.Env.ID || att.Provisioned() {
			continue
		}
		if _, err := e.Provision(ctx, t, att); err != nil {
			return err
		}
	}
	return nil
}

// Instance is a provisioned instance with decrypted credentials.
type Instance struct {
	domain.ServiceInstance
	Service     domain.AddonService
	Credentials map[string]string

	// environment variables exported from the instance.
	// Empty when credentials are disabled.
	EnvVars map[string]string
}

func (e *Engine) open(ctx context.Context, instanceID string, cluster string) (Instance, error) {
	inst, err := e.db.GetInstance(ctx, instanceID)
	if err != nil {
		return Instance{}, err
	}
	service, err := e.db.GetService(ctx, inst.ServiceID)
	if err != nil {
		return Instance{}, err
	}
	plain, err := e.sealer.Open(inst.Credentials)
	if err != nil {
		return Instance{}, xe.Wrap(err)
	}
	creds := map[string]string{}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Instance{}, xe.Wrap(err)
	}
	ret := Instance{ServiceInstance: inst, Service: service, Credentials: creds, EnvVars: map[string]string{}}
	if inst.Config.CredentialsEnabled {
		ret.EnvVars = exportCredentials(service.Name, service.ProtectedKeys, creds, e.egressInfo(cluster))
	}
	return ret, nil
}

// Instance returns the instance of the service attached to the environment.
//
// The error is *domerr.Missing when it is not provisioned yet.
func (e *Engine) Instance(ctx context.Context, moduleID string, serviceID string, env domain.Environment) (Instance, error) {
	atts, err := e.db.ListAttachments(ctx, moduleID, env.Stage)
	if err != nil {
		return Instance{}, err
	}
	for _, att := range atts {
		if att.ServiceID != serviceID || att.EnvironmentID != env.ID {
			continue
		}
		if !att.Provisioned() {
			break
		}
		return e.open(ctx, att.InstanceID, env.Cluster)
	}
	return Instance{}, xe.Wrap(domerr.Missing{Table: "service_instance", Identity: serviceID + "@" + env.ID})
}

// ExportEnvVars returns environment variables of instances attached to the environment,
// including services shared from other modules.
//
// Instances with credentials disabled export nothing.
func (e *Engine) ExportEnvVars(ctx context.Context, moduleID string, env domain.Environment) (map[string]string, error) {
	exported := map[string]string{}

	atts, err := e.db.ListAttachments(ctx, moduleID, env.Stage)
	if err != nil {
		return nil, err
	}
	for _, att := range atts {
		if att.EnvironmentID != env.ID || !att.Provisioned() {
			continue
		}
		inst, err := e.open(ctx, att.InstanceID, env.Cluster)
		if err != nil {
			return nil, err
		}
		maps.Copy(exported, inst.EnvVars)
	}

	shares, err := e.db.ListShares(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	for _, s := range shares {
		refs, err := e.db.ListAttachments(ctx, s.RefModuleID, env.Stage)
		if err != nil {
			return nil, err
		}
		found := false
		for _, att := range refs {
			if att.ServiceID != s.ServiceID || !att.Provisioned() {
				continue
			}
			inst, err := e.open(ctx, att.InstanceID, env.Cluster)
			if err != nil {
				return nil, err
			}
			maps.Copy(exported, inst.EnvVars)
			found = true
			break
		}
		if !found {
			e.logger.Printf(
				"WARNING: module %s shares %s from %s, but no instance is there in %s. skipped.",
				moduleID, s.ServiceID, s.RefModuleID, env.Stage,
			)
		}
	}
	return exported, nil
}

// Share makes module use the service bound to ref. Both must belong to the same application.
func (e *Engine) Share(ctx context.Context, module domain.Module, ref domain.Module, serviceID string) (domain.SharedAttachment, error) {
	if module.ApplicationID != ref.ApplicationID || module.ID == ref.ID {
		return domain.SharedAttachment{}, domerr.Invalid("ref_module", "%s can not be shared with %s", ref.Name, module.Name)
	}
	if _, err := e.db.GetBinding(ctx, ref.ID, serviceID); err != nil {
		if errors.Is(err, domerr.ErrNotFound) {
			return domain.SharedAttachment{}, xe.Wrap(domerr.Precondition("module %s does not bind the service", ref.Name))
		}
		return domain.SharedAttachment{}, err
	}
	if _, err := e.db.GetBinding(ctx, module.ID, serviceID); err == nil {
		return domain.SharedAttachment{}, xe.Wrap(domerr.Precondition("module %s binds the service by itself", module.Name))
	} else if !errors.Is(err, domerr.ErrNotFound) {
		return domain.SharedAttachment{}, err
	}
	return e.db.NewShare(ctx, domain.SharedAttachment{ModuleID: module.ID, RefModuleID: ref.ID, ServiceID: serviceID})
}

func (e *Engine) Unshare(ctx context.Context, moduleID string, serviceID string) error {
	return e.db.DeleteShare(ctx, moduleID, serviceID)
}

// Unbind removes the binding. Provisioned instances stay until they are recycled.
//
// Bindings shared by other modules can not be unbound (ErrSharedByOthers).
// Unbinding a service which is not bound does nothing.
func (e *Engine) Unbind(ctx context.Context, moduleID string, serviceID string) ([]domain.UnboundAttachment, error) {
	binding, err := e.db.GetBinding(ctx, moduleID, serviceID)
	if errors.Is(err, domerr.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	shares, err := e.db.ListSharedBy(ctx, moduleID, serviceID)
	if err != nil {
		return nil, err
	}
	if len(shares) != 0 {
		return nil, xe.Wrap(ErrSharedByOthers)
	}
	return e.db.Unbind(ctx, binding.ID)
}

// ChangePlan replaces plans of the binding.
//
// Once any environment is provisioned, plans are fixed (ErrCanNotModifyPlan).
func (e *Engine) ChangePlan(ctx context.Context, moduleID string, serviceID string, planIDs map[domain.Stage]string) error {
	binding, err := e.db.GetBinding(ctx, moduleID, serviceID)
	if err != nil {
		return err
	}
	atts, err := e.db.ListAttachmentsOfBinding(ctx, binding.ID)
	if err != nil {
		return err
	}
	for _, att := range atts {
		if att.Provisioned() {
			return xe.Wrap(ErrCanNotModifyPlan)
		}
	}
	service, err := e.db.GetService(ctx, serviceID)
	if err != nil {
		return err
	}
	for stage, id := range planIDs {
		if plan, ok := service.Plan(id); !ok || !plan.IsActive {
			return domerr.Invalid("plan_ids", "plan %s for %s is not available", id, stage)
		}
	}
	if err := e.db.ChangePlans(ctx, binding.ID, planIDs); err != nil {
		if errors.Is(err, domerr.ErrPreconditionFailed) {
			return xe.Wrap(fmt.Errorf("%w: %w", ErrCanNotModifyPlan, err))
		}
		return err
	}
	return nil
}

// Recycle releases the instance of an unbound attachment at its broker, and deletes records.
//
// Instances recycled on delete are released before returning.
// Others are released in background. Wait blocks until they finish.
func (e *Engine) Recycle(ctx context.Context, unboundID string) error {
	u, err := e.db.GetUnbound(ctx, unboundID)
	if err != nil {
		return err
	}
	inst, err := e.db.GetInstance(ctx, u.InstanceID)
	if err != nil {
		return err
	}
	service, err := e.db.GetService(ctx, inst.ServiceID)
	if err != nil {
		return err
	}
	broker, err := e.brokerOf(service)
	if err != nil {
		return err
	}

	release := func(ctx context.Context) error {
		if err := broker.Deprovision(ctx, service, inst); err != nil {
			return err
		}
		return e.db.DeleteUnbound(ctx, u.ID)
	}

	if inst.Config.RecycleOnDelete {
		return release(ctx)
	}

	e.recycling.Add(1)
	go func() {
		defer e.recycling.Done()
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Printf("failed to recycle instance %s of %s: %s", inst.ID, service.Name, err)
		}
	}()
	return nil
}

// RecycleAll recycles every unbound attachment of the module.
func (e *Engine) RecycleAll(ctx context.Context, moduleID string) error {
	unbound, err := e.db.ListUnbound(ctx, moduleID)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range unbound {
		if err := e.Recycle(ctx, u.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecycleNext recycles the unbound attachment next to the cursor.
//
// It has the shape of a polling task: it returns the cursor for the next call,
// and false when all attachments have been visited. Then the cursor is reset.
// Failures on an attachment are logged and the attachment is passed over.
func (e *Engine) RecycleNext(ctx context.Context, cursor string) (string, bool, error) {
	u, err := e.db.NextUnbound(ctx, cursor)
	if err != nil {
		if errors.Is(err, domerr.ErrNotFound) {
			return "", false, nil
		}
		return cursor, false, err
	}
	if err := e.Recycle(ctx, u.ID); err != nil {
		if errors.Is(err, context.Canceled) {
			return cursor, false, err
		}
		e.logger.Printf("failed to recycle unbound attachment %s: %s", u.ID, err)
	}
	return u.ID, true, nil
}

// Wait blocks until background recycling finishes.
func (e *Engine) Wait() {
	e.recycling.Wait()
}
