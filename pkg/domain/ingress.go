package domain

import "time"

// AutoGenDomain is a platform generated subdomain, like `<app>-<region>.<cluster-root>`.
//
// (Region, Host) is unique.
type AutoGenDomain struct {
	Region       string
	Host         string
	WorkloadApp  string
	HTTPSEnabled bool
	UpdatedAt    time.Time
}

// AppSubpath is a platform generated subpath on shared hosts, like `/<app>/`.
//
// (Region, Subpath) is unique.
type AppSubpath struct {
	Region      string
	Subpath     string
	WorkloadApp string
	UpdatedAt   time.Time
}

// CustomDomain is a host bound by users.
type CustomDomain struct {
	ID            int64
	Region        string
	Host          string
	PathPrefix    string
	ModuleID      string
	EnvironmentID string
	WorkloadApp   string
	HTTPSEnabled  bool

	// cert bound to this domain. empty means "find a shared cert".
	CertID string
}

// DefaultPathPrefix is the path prefix of domains without explicit prefix.
const DefaultPathPrefix = "/"

// HasDefaultPathPrefix reports whether the domain is bound on "/".
func (c CustomDomain) HasDefaultPathPrefix() bool {
	return c.PathPrefix == "" || c.PathPrefix == DefaultPathPrefix
}

type TLSCert struct {
	ID     string
	Region string
	Name   string

	// PEM encoded
	CertData string
	KeyData  string

	// hosts this shared cert serves. entries may be wildcards like "*.example.com".
	AutoMatchHosts []string
}
