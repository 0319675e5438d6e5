package bkapp_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"testing"

	"github.com/TencentBlueKing/bkpaas/pkg/cmp"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

func tarball(t *testing.T, files map[string]string) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf
}

const appDescV3 = `
specVersion: 3
appVersion: "1.0.0"
app:
  bkAppCode: hello
modules:
  - name: default
    isDefault: true
    sourceDir: src
    language: Python
    spec:
      processes:
        - name: web
          procCommand: gunicorn app:wsgi -b :5000
          targetPort: 5000
          replicas: 2
          resQuotaPlan: 4C1G
          probes:
            readiness:
              httpGet:
                port: 5000
                path: /healthz
      hooks:
        preRelease:
          procCommand: python manage.py migrate
      configuration:
        env:
          - name: GLOBAL
            value: "1"
      envOverlay:
        envVariables:
          - envName: stag
            name: STAG_XX
            value: "2"
        replicas:
          - envName: prod
            process: web
            count: 4
      svcDiscovery:
        bkSaaS:
          - bkAppCode: other
`

const appDescV2 = `
spec_version: 2
app_version: "1.0"
app:
  bk_app_code: hello
modules:
  default:
    is_default: true
    source_dir: .
    language: Go
    processes:
      worker:
        command: ./worker --queue default
      web:
        command: ./serve
        replicas: 3
        plan: 4C2G
    scripts:
      pre_release_hook: ./migrate
    env_variables:
      - key: FOO
        value: bar
      - key: ONLY_PROD
        value: x
        environment_name: prod
`

func TestReadAppDesc_V3(t *testing.T) {
	pkg := tarball(t, map[string]string{
		"./src/app_desc.yaml": appDescV3,
		"./src/app.yaml":      "spec_version: 2\n",
		"./app_desc.yaml":     "specVersion: 3\nmodules: []\n",
	})

	desc, err := bkapp.ReadAppDesc(pkg, "src")
	if err != nil {
		t.Fatal(err)
	}
	if desc.SpecVersion != 3 || desc.AppCode != "hello" {
		t.Errorf("header: actual=%+v", desc)
	}
	mod, ok := desc.Module("default")
	if !ok {
		t.Fatalf("module default is missing: %+v", desc.Modules)
	}
	if !mod.IsDefault || mod.SourceDir != "src" {
		t.Errorf("module: actual=%+v", mod)
	}

	m := mod.Manifest
	if len(m.Processes) != 1 {
		t.Fatalf("processes: actual=%+v", m.Processes)
	}
	web := m.Processes[0]
	if web.TargetReplicas != 2 || web.TargetPort != 5000 || web.ResQuotaPlan != "4C1G" {
		t.Errorf("web: actual=%+v", web)
	}
	if web.Probes == nil || web.Probes.Readiness == nil || web.Probes.Readiness.HTTPGet == nil ||
		web.Probes.Readiness.HTTPGet.Port.IntValue() != 5000 {
		t.Errorf("web probes: actual=%+v", web.Probes)
	}
	if ov, ok := web.Overlays[domain.StageProd]; !ok || ov.TargetReplicas == nil || *ov.TargetReplicas != 4 {
		t.Errorf("web overlays: actual=%+v", web.Overlays)
	}

	if len(m.Hooks) != 1 || m.Hooks[0].ProcCommand != "python manage.py migrate" {
		t.Errorf("hooks: actual=%+v", m.Hooks)
	}

	expectVars := []domain.PresetEnvVar{
		{Key: "GLOBAL", Value: "1", Scope: domain.EnvScopeGlobal},
		{Key: "STAG_XX", Value: "2", Scope: domain.ScopeOf(domain.StageStag)},
	}
	if !cmp.SliceEq(m.EnvVars, expectVars) {
		t.Errorf("env vars: actual=%+v, expect=%+v", m.EnvVars, expectVars)
	}
	if len(m.SvcDiscovery) != 1 || m.SvcDiscovery[0].BkAppCode != "other" {
		t.Errorf("svc discovery: actual=%+v", m.SvcDiscovery)
	}

	// not declared.
	if m.Mounts != nil || m.DomainResolution != nil {
		t.Errorf("absent fields: mounts=%+v, domain resolution=%+v", m.Mounts, m.DomainResolution)
	}
}

func TestReadAppDesc_V2(t *testing.T) {
	pkg := tarball(t, map[string]string{"app.yaml": appDescV2})

	desc, err := bkapp.ReadAppDesc(pkg, ".")
	if err != nil {
		t.Fatal(err)
	}
	if desc.SpecVersion != 2 || desc.AppCode != "hello" || len(desc.Modules) != 1 {
		t.Fatalf("header: actual=%+v", desc)
	}
	m := desc.Modules[0].Manifest

	names := []string{}
	for _, p := range m.Processes {
		names = append(names, p.Name)
	}
	if expect := []string{"web", "worker"}; !cmp.SliceEq(names, expect) {
		t.Errorf("processes: actual=%+v, expect=%+v", names, expect)
	}
	if web := m.Processes[0]; web.ProcCommand != "./serve" || web.TargetReplicas != 3 || web.ResQuotaPlan != "4C2G" {
		t.Errorf("web: actual=%+v", web)
	}
	if worker := m.Processes[1]; worker.TargetReplicas != 1 {
		t.Errorf("worker: actual=%+v", worker)
	}

	if len(m.Hooks) != 1 || m.Hooks[0].ProcCommand != "./migrate" || !m.Hooks[0].Enabled {
		t.Errorf("hooks: actual=%+v", m.Hooks)
	}

	expectVars := []domain.PresetEnvVar{
		{Key: "FOO", Value: "bar", Scope: domain.EnvScopeGlobal},
		{Key: "ONLY_PROD", Value: "x", Scope: domain.ScopeOf(domain.StageProd)},
	}
	if !cmp.SliceEq(m.EnvVars, expectVars) {
		t.Errorf("env vars: actual=%+v, expect=%+v", m.EnvVars, expectVars)
	}
	if m.SvcDiscovery != nil {
		t.Errorf("svc discovery: actual=%+v, expect absent", m.SvcDiscovery)
	}
}

func TestReadAppDesc_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		_, err := bkapp.ReadAppDesc(tarball(t, map[string]string{"README.md": "hi"}), ".")
		if !errors.Is(err, bkapp.ErrAppDescNotFound) {
			t.Errorf("error: actual=%v, expect=%v", err, bkapp.ErrAppDescNotFound)
		}
	})
	t.Run("unsupported version", func(t *testing.T) {
		_, err := bkapp.ReadAppDesc(tarball(t, map[string]string{"app_desc.yaml": "specVersion: 9\n"}), ".")
		if !errors.Is(err, domerr.ErrValidation) {
			t.Errorf("error: actual=%v, expect ErrValidation", err)
		}
	})
	t.Run("not gzipped", func(t *testing.T) {
		_, err := bkapp.ReadAppDesc(bytes.NewBufferString("plain text"), ".")
		if !errors.Is(err, domerr.ErrValidation) {
			t.Errorf("error: actual=%v, expect ErrValidation", err)
		}
	})
}
