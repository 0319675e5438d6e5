package kubeutil

import (
	"os"
	"path/filepath"
	"time"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Clients bundles clients built from one rest.Config.
type Clients struct {
	Config    *rest.Config
	Clientset kubernetes.Interface
	Dynamic   dynamic.Interface
}

// Connect builds kubernetes clients.
//
// kubeconfig is searched from (less to more priority)
//
// - `~/.kube/config`
//
// - environmental variable `KUBECONFIG`
//
// - the argument `kubeconfig` (typically, from a command line flag)
//
// When no files are found, it tries in-cluster config.
// timeoutSeconds (if positive) is set as the client timeout.
func Connect(kubeconfig string, timeoutSeconds int) (*Clients, error) {
	path := ""
	if home := homedir.HomeDir(); home != "" {
		path = filepath.Join(home, ".kube", "config")
	}
	if k := os.Getenv("KUBECONFIG"); k != "" {
		path = k
	}
	if kubeconfig != "" {
		path = kubeconfig
	}
	if path != "" {
		if stat, err := os.Stat(path); err != nil || stat.IsDir() {
			path = ""
		}
	}

	var config *rest.Config
	var err error
	if path == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", path)
	}
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if 0 < timeoutSeconds {
		config.Timeout = time.Duration(timeoutSeconds) * time.Second
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return &Clients{Config: config, Clientset: clientset, Dynamic: dyn}, nil
}
