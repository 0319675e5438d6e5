package domain

import (
	"fmt"
	"time"
)

type ArtifactType string

const (
	// tarball consumed by a runner image
	ArtifactSlug ArtifactType = "slug"

	// self-contained OCI image
	ArtifactImage ArtifactType = "image"
)

func (a ArtifactType) String() string {
	return string(a)
}

func AsArtifactType(s string) (ArtifactType, error) {
	switch ArtifactType(s) {
	case ArtifactSlug, ArtifactImage:
		return ArtifactType(s), nil
	default:
		return "", fmt.Errorf("'%s' is not an artifact type", s)
	}
}

// ArtifactTypeFor decides the artifact type produced by a build.
//
// Dockerfile and CNB builds produce images, others produce slugs.
func ArtifactTypeFor(useDockerfile, useCNB bool) ArtifactType {
	if useDockerfile || useCNB {
		return ArtifactImage
	}
	return ArtifactSlug
}

type BuildMetadata struct {
	UseDockerfile bool   `json:"use_dockerfile"`
	UseCNB        bool   `json:"use_cnb"`
	ImageDigest   string `json:"image_digest,omitempty"`

	// process name -> command, detected from the source.
	Procfile map[string]string `json:"procfile,omitempty"`
}

// Build is an immutable record of a successfully produced artifact.
type Build struct {
	ID       string
	ModuleID string

	// workload app which produced this build.
	WorkloadApp string

	ArtifactType ArtifactType

	// image reference. set when ArtifactType is image.
	Image string

	// path of slug in the blob store. set when ArtifactType is slug.
	SlugPath string

	Revision string
	Branch   string
	Metadata BuildMetadata

	CreatedAt time.Time
}

// Consistent reports whether the artifact type agrees with its metadata.
func (b Build) Consistent() bool {
	return b.ArtifactType == ArtifactTypeFor(b.Metadata.UseDockerfile, b.Metadata.UseCNB)
}

// BuildProcess is a mutable record of an in-flight build.
type BuildProcess struct {
	ID           string
	ModuleID     string
	WorkloadApp  string
	DeploymentID string

	// location of the source tarball in the blob store.
	SourceTarball string

	BuilderImage string
	Buildpacks   []Buildpack

	// inherited by the Build produced.
	Metadata BuildMetadata

	Revision string
	Branch   string

	// id of the output stream where build logs go.
	OutputStreamID string

	Status JobStatus

	// empty until the build succeeds.
	BuildID string

	IntRequestedAt *time.Time

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// InterruptionRequested reports whether someone asks to stop this build.
func (bp BuildProcess) InterruptionRequested() bool {
	return bp.IntRequestedAt != nil
}
