package bkapp

import (
	"regexp"
	"strconv"

	"github.com/google/shlex"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// resource quota plans known by the operator.
const (
	ResQuotaDefault = "default"
	ResQuota4C1G    = "4C1G"
	ResQuota4C2G    = "4C2G"
	ResQuota4C4G    = "4C4G"
)

var (
	defaultedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-[^}]*\}`)

	// legacy plans are named like "4C1G5R" or "2C512M".
	legacyPlan = regexp.MustCompile(`^(\d+)C(\d+)(G|M)`)
)

// SplitProcCommand splits a legacy proc_command into command and args in shell style.
//
// "${VAR:-default}" is reduced to "${VAR}", since kubernetes does not expand defaults.
func SplitProcCommand(procCommand string) ([]string, []string, error) {
	tokens, err := shlex.Split(procCommand)
	if err != nil {
		return nil, nil, xe.Wrap(domerr.Invalid("proc_command", "%s", err))
	}
	if len(tokens) == 0 {
		return nil, nil, xe.Wrap(domerr.Invalid("proc_command", "empty"))
	}
	for i, t := range tokens {
		tokens[i] = defaultedVar.ReplaceAllString(t, "$${$1}")
	}
	return tokens[:1], tokens[1:], nil
}

// LegacyPlanToResQuota maps a legacy plan name to a resource quota plan by its memory.
//
// Unknown names are mapped to the default plan.
func LegacyPlanToResQuota(plan string) string {
	switch plan {
	case ResQuotaDefault, ResQuota4C1G, ResQuota4C2G, ResQuota4C4G:
		return plan
	}
	m := legacyPlan.FindStringSubmatch(plan)
	if m == nil {
		return ResQuotaDefault
	}
	mem, err := strconv.Atoi(m[2])
	if err != nil {
		return ResQuotaDefault
	}
	if m[3] == "G" {
		mem *= 1024
	}
	switch {
	case mem <= 512:
		return ResQuotaDefault
	case mem <= 1024:
		return ResQuota4C1G
	case mem <= 2048:
		return ResQuota4C2G
	default:
		return ResQuota4C4G
	}
}

// commandOf decides command and args of a process.
//
// Processes of buildpack modules are started by the runner entrypoint.
func commandOf(method domain.BuildMethod, runnerEntrypoint []string, name string, command, args []string, procCommand string) ([]string, []string, error) {
	if method == domain.BuildMethodBuildpack {
		return append([]string{}, runnerEntrypoint...), []string{"start", name}, nil
	}
	if procCommand != "" {
		return SplitProcCommand(procCommand)
	}
	return command, args, nil
}

// ProjectProcesses renders process specs into BkApp processes.
func ProjectProcesses(method domain.BuildMethod, runnerEntrypoint []string, specs []domain.ProcessSpec) ([]Process, error) {
	procs := make([]Process, 0, len(specs))
	for _, s := range specs {
		command, args, err := commandOf(method, runnerEntrypoint, s.Name, s.Command, s.Args, s.ProcCommand)
		if err != nil {
			return nil, err
		}
		replicas := s.TargetReplicas
		plan := ""
		if s.ResQuotaPlan != "" {
			plan = LegacyPlanToResQuota(s.ResQuotaPlan)
		}
		p := Process{
			Name:         s.Name,
			Replicas:     &replicas,
			ResQuotaPlan: plan,
			TargetPort:   s.TargetPort,
			Command:      command,
			Args:         args,
			Probes:       projectProbes(s.Probes),
		}
		if a := s.Autoscaling; a != nil {
			p.Autoscaling = &Autoscaling{MinReplicas: a.MinReplicas, MaxReplicas: a.MaxReplicas, Policy: string(a.Policy)}
		}
		for _, svc := range s.Services {
			ps := ProcService{Name: svc.Name, TargetPort: svc.TargetPort, Protocol: svc.Protocol, Port: svc.Port}
			if svc.ExposedType != nil {
				ps.ExposedType = &ExposedType{Name: string(svc.ExposedType.Name)}
			}
			p.Services = append(p.Services, ps)
		}
		procs = append(procs, p)
	}
	return procs, nil
}

func projectProbes(p *domain.Probes) *Probes {
	if p == nil {
		return nil
	}
	return &Probes{
		Liveness:  projectProbe(p.Liveness),
		Readiness: projectProbe(p.Readiness),
		Startup:   projectProbe(p.Startup),
	}
}

func projectProbe(p *domain.Probe) *Probe {
	if p == nil {
		return nil
	}
	probe := &Probe{
		InitialDelaySeconds: p.InitialDelaySeconds,
		TimeoutSeconds:      p.TimeoutSeconds,
		PeriodSeconds:       p.PeriodSeconds,
		SuccessThreshold:    p.SuccessThreshold,
		FailureThreshold:    p.FailureThreshold,
	}
	if e := p.Exec; e != nil {
		probe.Exec = &ExecAction{Command: e.Command}
	}
	if h := p.HTTPGet; h != nil {
		probe.HTTPGet = &HTTPGetAction{Port: h.Port, Path: h.Path, Host: h.Host, Scheme: h.Scheme}
		for _, hd := range h.HTTPHeaders {
			probe.HTTPGet.HTTPHeaders = append(probe.HTTPGet.HTTPHeaders, HTTPHeader{Name: hd.Name, Value: hd.Value})
		}
	}
	if t := p.TCPSocket; t != nil {
		probe.TCPSocket = &TCPSocketAction{Port: t.Port, Host: t.Host}
	}
	return probe
}
