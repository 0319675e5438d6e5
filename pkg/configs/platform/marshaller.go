package platform

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath is the environment variable which tells the config file path,
// when it is not given by the command line.
const EnvConfigPath = "PAAS_CONFIG"

// load platform config from a file.
//
// args:
//   - filepath: filepath refers a config file.
//
// returns *PlatformConfig, error:
//
//	When loading success, returns `(*PlatformConfig, nil)`.
//	Otherwise, returns `(nil, error)`.
func LoadPlatformConfig(filepath string) (*PlatformConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

// Unmarshal parses yaml and seals it.
//
// Misconfigurations are reported as error, not panic.
func Unmarshal(conf []byte) (out *PlatformConfig, err error) {
	var marshall *PlatformConfigMarshall
	if err := yaml.Unmarshal(conf, &marshall); err != nil {
		return nil, err
	}
	if marshall == nil {
		return nil, fmt.Errorf("config is empty")
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			switch rr := r.(type) {
			case error:
				err = fmt.Errorf("misconfiguration: %w", rr)
			default:
				err = fmt.Errorf("misconfiguration: %v", rr)
			}
		}
	}()
	return TrySeal(marshall), nil
}
