package addon

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/addon/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// ProvisionRequest is the context sent to brokers.
type ProvisionRequest struct {
	Service domain.AddonService
	Plan    domain.Plan

	AppCode     string
	Module      string
	Stage       domain.Stage
	WorkloadApp string

	// egress information of the cluster, as JSON. "{}" when unknown.
	EgressInfo string
}

// Provisioned is an instance allocated by a broker.
type Provisioned struct {
	// id assigned by the broker. Empty lets the platform assign one.
	InstanceID string

	Credentials map[string]string
	Config      domain.InstanceConfig
}

// Broker allocates and releases service instances.
type Broker interface {
	Provision(ctx context.Context, req ProvisionRequest) (Provisioned, error)

	Deprovision(ctx context.Context, service domain.AddonService, instance domain.ServiceInstance) error
}

// LocalBroker hands out instances pre-created by operators.
type LocalBroker struct {
	db     kdb.Interface
	sealer *Sealer
	logger *log.Logger
}

func NewLocalBroker(db kdb.Interface, sealer *Sealer, logger *log.Logger) *LocalBroker {
	if logger == nil {
		logger = log.New(log.Writer(), "[addon/local] ", log.LstdFlags)
	}
	return &LocalBroker{db: db, sealer: sealer, logger: logger}
}

var _ Broker = &LocalBroker{}

func (l *LocalBroker) Provision(ctx context.Context, req ProvisionRequest) (Provisioned, error) {
	pre, err := l.db.AllocatePreCreated(ctx, req.Plan.ID)
	if errors.Is(err, domerr.ErrNotFound) {
		return Provisioned{}, xe.Wrap(domerr.Precondition(
			"no free instance of plan %s (service %s)", req.Plan.Name, req.Service.Name,
		))
	}
	if err != nil {
		return Provisioned{}, err
	}

	plain, err := l.sealer.Open(pre.Credentials)
	if err != nil {
		return Provisioned{}, xe.Wrap(err)
	}
	creds := map[string]string{}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Provisioned{}, xe.Wrap(err)
	}
	return Provisioned{InstanceID: pre.ID, Credentials: creds, Config: pre.Config}, nil
}

// Deprovision does nothing. Pre-created instances are never handed out twice.
func (l *LocalBroker) Deprovision(_ context.Context, service domain.AddonService, instance domain.ServiceInstance) error {
	l.logger.Printf("local instance %s of %s is released", instance.ID, service.Name)
	return nil
}
