package addon_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"testing"

	"github.com/TencentBlueKing/bkpaas/pkg/cmp"
	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/addon"
	addonmock "github.com/TencentBlueKing/bkpaas/pkg/domain/addon/db/mock"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

var quiet = log.New(io.Discard, "", 0)

type fakeBroker struct {
	mu            sync.Mutex
	credentials   map[string]string
	config        domain.InstanceConfig
	provisioned   []addon.ProvisionRequest
	deprovisioned []string
}

func (f *fakeBroker) Provision(_ context.Context, req addon.ProvisionRequest) (addon.Provisioned, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned = append(f.provisioned, req)
	return addon.Provisioned{
		InstanceID:  fmt.Sprintf("inst-%s-%s", req.Plan.ID, req.Stage),
		Credentials: f.credentials,
		Config:      f.config,
	}, nil
}

func (f *fakeBroker) Deprovision(_ context.Context, _ domain.AddonService, instance domain.ServiceInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deprovisioned = append(f.deprovisioned, instance.ID)
	return nil
}

func (f *fakeBroker) Deprovisioned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deprovisioned)
}

func testSealer() *addon.Sealer {
	key := [32]byte{}
	copy(key[:], "0123456789abcdef0123456789abcdef")
	return addon.NewSealer(key)
}

func seal(t *testing.T, s *addon.Sealer, creds map[string]string) []byte {
	t.Helper()
	plain, err := json.Marshal(creds)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s.Seal(plain)
	if err != nil {
		t.Fatal(err)
	}
	return sealed
}

type clusters map[string]*platform.ClusterConfig

func (c clusters) Cluster(name string) (*platform.ClusterConfig, bool) {
	cc, ok := c[name]
	return cc, ok
}

var (
	app   = domain.Application{ID: "app-1", Code: "shop", TenantID: "default", Region: "east"}
	web   = domain.Module{ID: "mod-web", ApplicationID: "app-1", Name: "web"}
	api   = domain.Module{ID: "mod-api", ApplicationID: "app-1", Name: "api"}
	stag  = domain.Environment{ID: "env-web-stag", ModuleID: "mod-web", Stage: domain.StageStag, WorkloadApp: "shop-m-web-stag", Cluster: "main"}
	prod  = domain.Environment{ID: "env-web-prod", ModuleID: "mod-web", Stage: domain.StageProd, WorkloadApp: "shop-m-web-prod", Cluster: "main"}
	mysql = domain.AddonService{
		ID: "svc-mysql", Name: "mysql", Provider: "remote",
		Plans: []domain.Plan{
			{ID: "plan-eager", ServiceID: "svc-mysql", Name: "eager", IsEager: true, IsActive: true},
			{ID: "plan-lazy", ServiceID: "svc-mysql", Name: "lazy", IsActive: true},
			{ID: "plan-retired", ServiceID: "svc-mysql", Name: "retired"},
		},
	}
)

func notBound(_ context.Context, moduleID string, serviceID string) (domain.AddonBinding, error) {
	return domain.AddonBinding{}, domerr.Missing{Table: "addon_binding", Identity: moduleID + "/" + serviceID}
}

func TestEngine_Bind(t *testing.T) {
	t.Run("eager plans are provisioned on bind, others are not", func(t *testing.T) {
		ctx := context.Background()
		sealer := testSealer()
		broker := &fakeBroker{
			credentials: map[string]string{"host": "db.example.com", "egress": "{cluster_info.egress_info_json}"},
			config:      domain.InstanceConfig{CredentialsEnabled: true},
		}
		cluster := platform.TrySeal[*platform.ClusterConfig](&platform.ClusterConfigMarshall{
			Name: "main", EgressIPs: []string{"10.0.0.1"},
		})

		db := addonmock.NewAddonInterface()
		db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
		db.Impl.GetBinding = notBound
		db.Impl.ListShares = func(context.Context, string) ([]domain.SharedAttachment, error) { return nil, nil }
		db.Impl.GetPolicy = func(context.Context, string, string) (domain.BindingPolicy, error) {
			return domain.BindingPolicy{
				Type:       domain.PolicyEnvSpecific,
				EnvPlanIDs: map[domain.Stage]string{domain.StageStag: "plan-eager", domain.StageProd: "plan-lazy"},
			}, nil
		}
		db.Impl.NewBinding = func(_ context.Context, b domain.AddonBinding, envs []domain.Environment) (domain.AddonBinding, []domain.Attachment, error) {
			b.ID = "binding-1"
			atts := []domain.Attachment{}
			for _, env := range envs {
				atts = append(atts, domain.Attachment{
					ID: "att-" + env.ID, BindingID: b.ID, ModuleID: b.ModuleID, ServiceID: b.ServiceID,
					EnvironmentID: env.ID, Stage: env.Stage, PlanID: b.PlanIDs[env.Stage],
				})
			}
			return b, atts, nil
		}
		db.Impl.SetInstance = func(_ context.Context, attID string, inst domain.ServiceInstance) (domain.Attachment, error) {
			return domain.Attachment{ID: attID, InstanceID: inst.ID}, nil
		}

		testee := addon.NewEngine(
			db, sealer, map[string]addon.Broker{"remote": broker}, clusters{"main": cluster}, addon.WithLogger(quiet),
		)
		binding, err := testee.Bind(ctx, addon.BindRequest{
			App: app, Module: web, Environments: []domain.Environment{stag, prod}, ServiceID: mysql.ID,
		})
		if err != nil {
			t.Fatal(err)
		}

		expectPlans := map[domain.Stage]string{domain.StageStag: "plan-eager", domain.StageProd: "plan-lazy"}
		if !cmp.MapEq(binding.PlanIDs, expectPlans) {
			t.Errorf("plans: actual=%+v, expect=%+v", binding.PlanIDs, expectPlans)
		}
		if actual := db.Calls.GetPolicy; len(actual) != 1 || actual[0] != [2]string{mysql.ID, "default"} {
			t.Errorf("GetPolicy: actual=%+v, expect=[[%s default]]", actual, mysql.ID)
		}

		if len(broker.provisioned) != 1 {
			t.Fatalf("provisioned: actual=%+v, expect only stag", broker.provisioned)
		}
		req := broker.provisioned[0]
		if req.Stage != domain.StageStag || req.WorkloadApp != stag.WorkloadApp || req.AppCode != "shop" || req.Module != "web" {
			t.Errorf("provision request: actual=%+v", req)
		}
		if expect := `{"egress_ips":["10.0.0.1"],"digest_version":""}`; req.EgressInfo != expect {
			t.Errorf("egress info: actual=%s, expect=%s", req.EgressInfo, expect)
		}

		if db.Calls.SetInstance.Times() != 1 {
			t.Fatalf("SetInstance: actual=%d times, expect=1", db.Calls.SetInstance.Times())
		}
		set := db.Calls.SetInstance[0]
		if set.AttachmentID != "att-"+stag.ID {
			t.Errorf("attachment: actual=%s, expect=att-%s", set.AttachmentID, stag.ID)
		}
		plain, err := sealer.Open(set.Instance.Credentials)
		if err != nil {
			t.Fatal(err)
		}
		stored := map[string]string{}
		if err := json.Unmarshal(plain, &stored); err != nil {
			t.Fatal(err)
		}
		if !cmp.MapEq(stored, broker.credentials) {
			t.Errorf("stored credentials: actual=%+v, expect=%+v", stored, broker.credentials)
		}
	})

	t.Run("module sharing the service can not bind it", func(t *testing.T) {
		db := addonmock.NewAddonInterface()
		db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
		db.Impl.GetBinding = notBound
		db.Impl.ListShares = func(context.Context, string) ([]domain.SharedAttachment, error) {
			return []domain.SharedAttachment{{ModuleID: web.ID, RefModuleID: api.ID, ServiceID: mysql.ID}}, nil
		}
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		_, err := testee.Bind(context.Background(), addon.BindRequest{
			App: app, Module: web, Environments: []domain.Environment{stag}, ServiceID: mysql.ID,
		})
		if !errors.Is(err, domerr.ErrPreconditionFailed) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrPreconditionFailed)
		}
		if db.Calls.NewBinding.Times() != 0 {
			t.Error("binding is created")
		}
	})

	t.Run("inactive plans are not selected", func(t *testing.T) {
		db := addonmock.NewAddonInterface()
		db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
		db.Impl.GetBinding = notBound
		db.Impl.ListShares = func(context.Context, string) ([]domain.SharedAttachment, error) { return nil, nil }
		db.Impl.GetPolicy = func(context.Context, string, string) (domain.BindingPolicy, error) {
			return domain.BindingPolicy{Type: domain.PolicyUniform, PlanID: "plan-retired"}, nil
		}
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		_, err := testee.Bind(context.Background(), addon.BindRequest{
			App: app, Module: web, Environments: []domain.Environment{stag}, ServiceID: mysql.ID,
		})
		if !errors.Is(err, domerr.ErrPreconditionFailed) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrPreconditionFailed)
		}
		if db.Calls.NewBinding.Times() != 0 {
			t.Error("binding is created")
		}
	})

	t.Run("service bound concurrently is returned", func(t *testing.T) {
		existing := domain.AddonBinding{ID: "binding-other", ModuleID: web.ID, ServiceID: mysql.ID}
		db := addonmock.NewAddonInterface()
		db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
		lookups := 0
		db.Impl.GetBinding = func(ctx context.Context, moduleID string, serviceID string) (domain.AddonBinding, error) {
			lookups++
			if lookups == 1 {
				return notBound(ctx, moduleID, serviceID)
			}
			return existing, nil
		}
		db.Impl.ListShares = func(context.Context, string) ([]domain.SharedAttachment, error) { return nil, nil }
		db.Impl.GetPolicy = func(context.Context, string, string) (domain.BindingPolicy, error) {
			return domain.BindingPolicy{Type: domain.PolicyUniform, PlanID: "plan-lazy"}, nil
		}
		db.Impl.NewBinding = func(context.Context, domain.AddonBinding, []domain.Environment) (domain.AddonBinding, []domain.Attachment, error) {
			return domain.AddonBinding{}, nil, domerr.Conflict{Table: "addon_binding", Identity: web.ID + "/" + mysql.ID}
		}
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))

		binding, err := testee.Bind(context.Background(), addon.BindRequest{
			App: app, Module: web, Environments: []domain.Environment{stag}, ServiceID: mysql.ID,
		})
		if err != nil {
			t.Fatal(err)
		}
		if binding.ID != existing.ID {
			t.Errorf("binding: actual=%+v, expect=%+v", binding, existing)
		}
	})

	t.Run("bound service is not bound again", func(t *testing.T) {
		existing := domain.AddonBinding{
			ID: "binding-1", ModuleID: web.ID, ServiceID: mysql.ID,
			PlanIDs: map[domain.Stage]string{domain.StageStag: "plan-lazy"},
		}
		db := addonmock.NewAddonInterface()
		db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
		db.Impl.GetBinding = func(context.Context, string, string) (domain.AddonBinding, error) { return existing, nil }
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))

		binding, err := testee.Bind(context.Background(), addon.BindRequest{
			App: app, Module: web, Environments: []domain.Environment{stag}, ServiceID: mysql.ID,
		})
		if err != nil {
			t.Fatal(err)
		}
		if binding.ID != existing.ID || !cmp.MapEq(binding.PlanIDs, existing.PlanIDs) {
			t.Errorf("binding: actual=%+v, expect=%+v", binding, existing)
		}
		if actual := db.Calls.GetBinding; len(actual) != 1 || actual[0] != [2]string{web.ID, mysql.ID} {
			t.Errorf("GetBinding: actual=%+v, expect=[[%s %s]]", actual, web.ID, mysql.ID)
		}
		if db.Calls.NewBinding.Times() != 0 {
			t.Error("binding is created twice")
		}
	})
}

func TestEngine_Provision_Conflict(t *testing.T) {
	broker := &fakeBroker{config: domain.InstanceConfig{CredentialsEnabled: true}}
	db := addonmock.NewAddonInterface()
	db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
	db.Impl.SetInstance = func(_ context.Context, attID string, _ domain.ServiceInstance) (domain.Attachment, error) {
		return domain.Attachment{}, domerr.Conflict{Table: "addon_attachment", Identity: attID}
	}
	testee := addon.NewEngine(db, testSealer(), map[string]addon.Broker{"remote": broker}, nil, addon.WithLogger(quiet))

	att := domain.Attachment{ID: "att-1", ServiceID: mysql.ID, EnvironmentID: stag.ID, Stage: stag.Stage, PlanID: "plan-lazy"}
	_, err := testee.Provision(context.Background(), addon.Target{App: app, Module: web, Env: stag}, att)
	if !errors.Is(err, domerr.ErrConflict) {
		t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrConflict)
	}
	if actual, expect := broker.Deprovisioned(), []string{"inst-plan-lazy-stag"}; !cmp.SliceEq(actual, expect) {
		t.Errorf("surplus instances: actual=%+v, expect=%+v", actual, expect)
	}
}

func TestEngine_EnsureProvisioned(t *testing.T) {
	broker := &fakeBroker{config: domain.InstanceConfig{CredentialsEnabled: true}}
	db := addonmock.NewAddonInterface()
	db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
	db.Impl.ListAttachments = func(context.Context, string, domain.Stage) ([]domain.Attachment, error) {
		return []domain.Attachment{
			{ID: "att-done", ServiceID: mysql.ID, EnvironmentID: prod.ID, Stage: prod.Stage, PlanID: "plan-lazy", InstanceID: "inst-0"},
			{ID: "att-todo", ServiceID: mysql.ID, EnvironmentID: prod.ID, Stage: prod.Stage, PlanID: "plan-lazy"},
		}, nil
	}
	db.Impl.SetInstance = func(_ context.Context, attID string, inst domain.ServiceInstance) (domain.Attachment, error) {
		return domain.Attachment{ID: attID, InstanceID: inst.ID}, nil
	}
	testee := addon.NewEngine(db, testSealer(), map[string]addon.Broker{"remote": broker}, nil, addon.WithLogger(quiet))

	if err := testee.EnsureProvisioned(context.Background(), addon.Target{App: app, Module: web, Env: prod}); err != nil {
		t.Fatal(err)
	}
	if db.Calls.SetInstance.Times() != 1 || db.Calls.SetInstance[0].AttachmentID != "att-todo" {
		t.Errorf("SetInstance: actual=%+v, expect only att-todo", db.Calls.SetInstance)
	}
	if len(broker.provisioned) != 1 || broker.provisioned[0].EgressInfo != "{}" {
		t.Errorf("provision request: actual=%+v", broker.provisioned)
	}
}

func TestEngine_ExportEnvVars(t *testing.T) {
	sealer := testSealer()
	redis := domain.AddonService{ID: "svc-redis", Name: "redis", ProtectedKeys: []string{"REDIS_URL"}}
	rabbit := domain.AddonService{ID: "svc-rabbit", Name: "rabbitmq"}
	services := map[string]domain.AddonService{mysql.ID: mysql, redis.ID: redis, rabbit.ID: rabbit}

	instances := map[string]domain.ServiceInstance{
		"inst-mysql": {
			ID: "inst-mysql", ServiceID: mysql.ID,
			Credentials: seal(t, sealer, map[string]string{"host": "db", "password": "pw"}),
			Config:      domain.InstanceConfig{CredentialsEnabled: true},
		},
		"inst-rabbit": {
			ID: "inst-rabbit", ServiceID: rabbit.ID,
			Credentials: seal(t, sealer, map[string]string{"host": "mq"}),
			Config:      domain.InstanceConfig{CredentialsEnabled: false},
		},
		"inst-redis": {
			ID: "inst-redis", ServiceID: redis.ID,
			Credentials: seal(t, sealer, map[string]string{"REDIS_URL": "redis://cache", "port": "6379"}),
			Config:      domain.InstanceConfig{CredentialsEnabled: true},
		},
	}

	db := addonmock.NewAddonInterface()
	db.Impl.GetService = func(_ context.Context, id string) (domain.AddonService, error) { return services[id], nil }
	db.Impl.GetInstance = func(_ context.Context, id string) (domain.ServiceInstance, error) { return instances[id], nil }
	db.Impl.ListAttachments = func(_ context.Context, moduleID string, _ domain.Stage) ([]domain.Attachment, error) {
		switch moduleID {
		case web.ID:
			return []domain.Attachment{
				{ID: "a1", ServiceID: mysql.ID, EnvironmentID: stag.ID, Stage: stag.Stage, InstanceID: "inst-mysql"},
				{ID: "a2", ServiceID: rabbit.ID, EnvironmentID: stag.ID, Stage: stag.Stage, InstanceID: "inst-rabbit"},
				{ID: "a3", ServiceID: mysql.ID, EnvironmentID: "env-other", Stage: stag.Stage, InstanceID: "inst-other"},
			}, nil
		case api.ID:
			return []domain.Attachment{
				{ID: "b1", ServiceID: redis.ID, EnvironmentID: "env-api-stag", Stage: stag.Stage, InstanceID: "inst-redis"},
			}, nil
		default:
			return nil, nil
		}
	}
	db.Impl.ListShares = func(context.Context, string) ([]domain.SharedAttachment, error) {
		return []domain.SharedAttachment{
			{ModuleID: web.ID, RefModuleID: api.ID, ServiceID: redis.ID},
			{ModuleID: web.ID, RefModuleID: "mod-gone", ServiceID: redis.ID},
		}, nil
	}

	testee := addon.NewEngine(db, sealer, nil, nil, addon.WithLogger(quiet))
	actual, err := testee.ExportEnvVars(context.Background(), web.ID, stag)
	if err != nil {
		t.Fatal(err)
	}
	expect := map[string]string{
		"MYSQL_HOST":     "db",
		"MYSQL_PASSWORD": "pw",
		"REDIS_URL":      "redis://cache",
		"REDIS_PORT":     "6379",
	}
	if !cmp.MapEq(actual, expect) {
		t.Errorf("env: actual=%+v, expect=%+v", actual, expect)
	}
}

func TestEngine_Unbind(t *testing.T) {
	t.Run("shared binding can not be unbound", func(t *testing.T) {
		db := addonmock.NewAddonInterface()
		db.Impl.GetBinding = func(context.Context, string, string) (domain.AddonBinding, error) {
			return domain.AddonBinding{ID: "binding-1"}, nil
		}
		db.Impl.ListSharedBy = func(context.Context, string, string) ([]domain.SharedAttachment, error) {
			return []domain.SharedAttachment{{ModuleID: api.ID, RefModuleID: web.ID, ServiceID: mysql.ID}}, nil
		}
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		_, err := testee.Unbind(context.Background(), web.ID, mysql.ID)
		if !errors.Is(err, addon.ErrSharedByOthers) {
			t.Errorf("error: actual=%v, expect=%v", err, addon.ErrSharedByOthers)
		}
		if !errors.Is(err, domerr.ErrPreconditionFailed) {
			t.Errorf("kind: actual=%s, expect=%s", domerr.KindOf(err), domerr.KindPreconditionFailed)
		}
		if db.Calls.Unbind.Times() != 0 {
			t.Error("unbound")
		}
	})

	t.Run("binding not shared is unbound", func(t *testing.T) {
		db := addonmock.NewAddonInterface()
		db.Impl.ListSharedBy = func(context.Context, string, string) ([]domain.SharedAttachment, error) { return nil, nil }
		db.Impl.GetBinding = func(context.Context, string, string) (domain.AddonBinding, error) {
			return domain.AddonBinding{ID: "binding-1"}, nil
		}
		db.Impl.Unbind = func(context.Context, string) ([]domain.UnboundAttachment, error) {
			return []domain.UnboundAttachment{{ID: "u1", InstanceID: "inst-1"}}, nil
		}
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		unbound, err := testee.Unbind(context.Background(), web.ID, mysql.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(unbound) != 1 || unbound[0].InstanceID != "inst-1" {
			t.Errorf("unbound: actual=%+v", unbound)
		}
		if !cmp.SliceEq(db.Calls.Unbind, []string{"binding-1"}) {
			t.Errorf("Unbind: actual=%+v, expect=[binding-1]", db.Calls.Unbind)
		}
	})

	t.Run("service not bound is left as it is", func(t *testing.T) {
		db := addonmock.NewAddonInterface()
		db.Impl.GetBinding = notBound
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		unbound, err := testee.Unbind(context.Background(), web.ID, mysql.ID)
		if err != nil {
			t.Errorf("error: actual=%v, expect=nil", err)
		}
		if len(unbound) != 0 {
			t.Errorf("unbound: actual=%+v, expect=[]", unbound)
		}
		if db.Calls.Unbind.Times() != 0 {
			t.Error("unbound")
		}
	})
}

func TestEngine_ChangePlan(t *testing.T) {
	newDB := func(atts ...domain.Attachment) *addonmock.AddonInterface {
		db := addonmock.NewAddonInterface()
		db.Impl.GetBinding = func(context.Context, string, string) (domain.AddonBinding, error) {
			return domain.AddonBinding{ID: "binding-1"}, nil
		}
		db.Impl.ListAttachmentsOfBinding = func(context.Context, string) ([]domain.Attachment, error) { return atts, nil }
		db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
		db.Impl.ChangePlans = func(context.Context, string, map[domain.Stage]string) error { return nil }
		return db
	}
	plans := map[domain.Stage]string{domain.StageStag: "plan-lazy", domain.StageProd: "plan-lazy"}

	t.Run("provisioned bindings can not change plans", func(t *testing.T) {
		db := newDB(domain.Attachment{ID: "a1"}, domain.Attachment{ID: "a2", InstanceID: "inst-1"})
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		err := testee.ChangePlan(context.Background(), web.ID, mysql.ID, plans)
		if !errors.Is(err, addon.ErrCanNotModifyPlan) {
			t.Errorf("error: actual=%v, expect=%v", err, addon.ErrCanNotModifyPlan)
		}
		if db.Calls.ChangePlans.Times() != 0 {
			t.Error("plans are changed")
		}
	})

	t.Run("unprovisioned bindings change plans", func(t *testing.T) {
		db := newDB(domain.Attachment{ID: "a1"})
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		if err := testee.ChangePlan(context.Background(), web.ID, mysql.ID, plans); err != nil {
			t.Fatal(err)
		}
		if !cmp.SliceEq(db.Calls.ChangePlans, []string{"binding-1"}) {
			t.Errorf("ChangePlans: actual=%+v", db.Calls.ChangePlans)
		}
	})

	t.Run("inactive plans are rejected", func(t *testing.T) {
		db := newDB()
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		err := testee.ChangePlan(context.Background(), web.ID, mysql.ID, map[domain.Stage]string{domain.StageStag: "plan-retired"})
		if !errors.Is(err, domerr.ErrValidation) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrValidation)
		}
	})
}

func TestEngine_Share(t *testing.T) {
	notFound := domerr.Missing{Table: "addon_binding", Identity: "x"}

	t.Run("modules of other applications can not share", func(t *testing.T) {
		db := addonmock.NewAddonInterface()
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		other := domain.Module{ID: "mod-x", ApplicationID: "app-2", Name: "x"}
		_, err := testee.Share(context.Background(), web, other, mysql.ID)
		if !errors.Is(err, domerr.ErrValidation) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrValidation)
		}
	})

	t.Run("ref module should bind the service", func(t *testing.T) {
		db := addonmock.NewAddonInterface()
		db.Impl.GetBinding = func(context.Context, string, string) (domain.AddonBinding, error) {
			return domain.AddonBinding{}, notFound
		}
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		_, err := testee.Share(context.Background(), web, api, mysql.ID)
		if !errors.Is(err, domerr.ErrPreconditionFailed) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrPreconditionFailed)
		}
	})

	t.Run("share is recorded", func(t *testing.T) {
		db := addonmock.NewAddonInterface()
		db.Impl.GetBinding = func(_ context.Context, moduleID string, _ string) (domain.AddonBinding, error) {
			if moduleID == api.ID {
				return domain.AddonBinding{ID: "binding-api"}, nil
			}
			return domain.AddonBinding{}, notFound
		}
		db.Impl.NewShare = func(_ context.Context, s domain.SharedAttachment) (domain.SharedAttachment, error) { return s, nil }
		testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
		if _, err := testee.Share(context.Background(), web, api, mysql.ID); err != nil {
			t.Fatal(err)
		}
		expect := []domain.SharedAttachment{{ModuleID: web.ID, RefModuleID: api.ID, ServiceID: mysql.ID}}
		if !cmp.SliceEq(db.Calls.NewShare, expect) {
			t.Errorf("NewShare: actual=%+v, expect=%+v", db.Calls.NewShare, expect)
		}
	})
}

func TestEngine_Recycle(t *testing.T) {
	newDB := func(recycleOnDelete bool) *addonmock.AddonInterface {
		db := addonmock.NewAddonInterface()
		db.Impl.GetUnbound = func(_ context.Context, id string) (domain.UnboundAttachment, error) {
			return domain.UnboundAttachment{ID: id, InstanceID: "inst-1"}, nil
		}
		db.Impl.GetInstance = func(_ context.Context, id string) (domain.ServiceInstance, error) {
			return domain.ServiceInstance{
				ID: id, ServiceID: mysql.ID, Config: domain.InstanceConfig{RecycleOnDelete: recycleOnDelete},
			}, nil
		}
		db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
		db.Impl.DeleteUnbound = func(context.Context, string) error { return nil }
		return db
	}

	t.Run("instances recycled on delete are released before returning", func(t *testing.T) {
		broker := &fakeBroker{}
		db := newDB(true)
		testee := addon.NewEngine(db, testSealer(), map[string]addon.Broker{"remote": broker}, nil, addon.WithLogger(quiet))
		if err := testee.Recycle(context.Background(), "u1"); err != nil {
			t.Fatal(err)
		}
		if !cmp.SliceEq(broker.Deprovisioned(), []string{"inst-1"}) {
			t.Errorf("deprovisioned: actual=%+v", broker.Deprovisioned())
		}
		if !cmp.SliceEq(db.Calls.DeleteUnbound, []string{"u1"}) {
			t.Errorf("DeleteUnbound: actual=%+v", db.Calls.DeleteUnbound)
		}
	})

	t.Run("other instances are released in background", func(t *testing.T) {
		broker := &fakeBroker{}
		db := newDB(false)
		testee := addon.NewEngine(db, testSealer(), map[string]addon.Broker{"remote": broker}, nil, addon.WithLogger(quiet))
		ctx, cancel := context.WithCancel(context.Background())
		if err := testee.Recycle(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		cancel()
		testee.Wait()
		if !cmp.SliceEq(broker.Deprovisioned(), []string{"inst-1"}) {
			t.Errorf("deprovisioned: actual=%+v", broker.Deprovisioned())
		}
		if !cmp.SliceEq(db.Calls.DeleteUnbound, []string{"u1"}) {
			t.Errorf("DeleteUnbound: actual=%+v", db.Calls.DeleteUnbound)
		}
	})
}

func TestEngine_RecycleNext(t *testing.T) {
	unbound := []string{"u1", "u2"}
	db := addonmock.NewAddonInterface()
	db.Impl.NextUnbound = func(_ context.Context, afterID string) (domain.UnboundAttachment, error) {
		for _, id := range unbound {
			if afterID < id {
				return domain.UnboundAttachment{ID: id, InstanceID: "inst-" + id}, nil
			}
		}
		return domain.UnboundAttachment{}, domerr.Missing{Table: "unbound_attachment", Identity: afterID}
	}
	db.Impl.GetUnbound = func(_ context.Context, id string) (domain.UnboundAttachment, error) {
		if id == "u1" {
			return domain.UnboundAttachment{}, errors.New("broken record")
		}
		return domain.UnboundAttachment{ID: id, InstanceID: "inst-" + id}, nil
	}
	db.Impl.GetInstance = func(_ context.Context, id string) (domain.ServiceInstance, error) {
		return domain.ServiceInstance{ID: id, ServiceID: mysql.ID, Config: domain.InstanceConfig{RecycleOnDelete: true}}, nil
	}
	db.Impl.GetService = func(context.Context, string) (domain.AddonService, error) { return mysql, nil }
	db.Impl.DeleteUnbound = func(context.Context, string) error { return nil }

	broker := &fakeBroker{}
	testee := addon.NewEngine(db, testSealer(), map[string]addon.Broker{"remote": broker}, nil, addon.WithLogger(quiet))
	ctx := context.Background()

	type step struct {
		cursor string
		ok     bool
	}
	actual := []step{}
	cursor := ""
	for range 3 {
		next, ok, err := testee.RecycleNext(ctx, cursor)
		if err != nil {
			t.Fatal(err)
		}
		actual = append(actual, step{cursor: next, ok: ok})
		cursor = next
	}

	expect := []step{{cursor: "u1", ok: true}, {cursor: "u2", ok: true}, {cursor: "", ok: false}}
	if !slices.Equal(actual, expect) {
		t.Errorf("steps: actual=%+v, expect=%+v", actual, expect)
	}
	if !cmp.SliceEq(broker.Deprovisioned(), []string{"inst-u2"}) {
		t.Errorf("deprovisioned: actual=%+v", broker.Deprovisioned())
	}
}

func TestEngine_ListBound(t *testing.T) {
	redis := domain.AddonService{ID: "svc-redis", Name: "redis"}
	db := addonmock.NewAddonInterface()
	db.Impl.ListBindings = func(context.Context, string) ([]domain.AddonBinding, error) {
		return []domain.AddonBinding{{ID: "b1", ModuleID: web.ID, ServiceID: mysql.ID}}, nil
	}
	db.Impl.ListShares = func(context.Context, string) ([]domain.SharedAttachment, error) {
		return []domain.SharedAttachment{{ModuleID: web.ID, RefModuleID: api.ID, ServiceID: redis.ID}}, nil
	}
	db.Impl.GetService = func(_ context.Context, id string) (domain.AddonService, error) {
		if id == redis.ID {
			return redis, nil
		}
		return mysql, nil
	}

	testee := addon.NewEngine(db, testSealer(), nil, nil, addon.WithLogger(quiet))
	actual, err := testee.ListBound(context.Background(), web.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(actual) != 2 ||
		actual[0].Service.Name != "mysql" || actual[0].SharedFrom != "" ||
		actual[1].Service.Name != "redis" || actual[1].SharedFrom != api.ID {
		t.Errorf("bound: actual=%+v", actual)
	}
}
