// Package buildtime holds build information, set with
//
//	-ldflags "-X github.com/TencentBlueKing/bkpaas/pkg/buildtime.version=... -X github.com/TencentBlueKing/bkpaas/pkg/buildtime.revision=..."
package buildtime

var (
	version  = "dev"
	revision = "unknown"
)

func Version() string {
	return version
}

func Revision() string {
	return revision
}

func VersionString() string {
	return version + " (commit: " + revision + ")"
}
