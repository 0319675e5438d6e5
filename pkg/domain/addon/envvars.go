package addon

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
)

// EgressInfo is the egress information of a cluster.
type EgressInfo struct {
	EgressIPs     []string `json:"egress_ips"`
	DigestVersion string   `json:"digest_version"`
}

// EgressInfoJSON renders egress information of the cluster. A nil cluster renders "{}".
func EgressInfoJSON(cluster *platform.ClusterConfig) string {
	if cluster == nil || (len(cluster.EgressIPs()) == 0 && cluster.DigestVersion() == "") {
		return "{}"
	}
	buf, err := json.Marshal(EgressInfo{EgressIPs: cluster.EgressIPs(), DigestVersion: cluster.DigestVersion()})
	if err != nil {
		return "{}"
	}
	return string(buf)
}

// placeholders in credential values.
const placeholderEgressInfo = "{cluster_info.egress_info_json}"

// renderTemplate replaces placeholders in v.
func renderTemplate(v string, egressInfo string) string {
	return strings.ReplaceAll(v, placeholderEgressInfo, egressInfo)
}

// EnvPrefix is the prefix of environment variables exported by the service.
func EnvPrefix(serviceName string) string {
	return strings.ToUpper(strings.ReplaceAll(serviceName, "-", "_")) + "_"
}

// ExportKey is the environment variable name of a credential key.
//
// Keys are uppercased, and prefixed with the service name unless they are
// protected or already prefixed.
func ExportKey(serviceName string, protected []string, key string) string {
	if slices.Contains(protected, key) {
		return key
	}
	upper := strings.ToUpper(key)
	prefix := EnvPrefix(serviceName)
	if strings.HasPrefix(upper, prefix) {
		return upper
	}
	return prefix + upper
}

// exportCredentials turns credentials into environment variables.
func exportCredentials(serviceName string, protected []string, creds map[string]string, egressInfo string) map[string]string {
	env := map[string]string{}
	for _, k := range slices.Sorted(maps.Keys(creds)) {
		env[ExportKey(serviceName, protected, k)] = renderTemplate(creds[k], egressInfo)
	}
	return env
}
