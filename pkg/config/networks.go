package config

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/text/encoding/unicode"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// ReadNetworkConfig reads a project network configuration file.
func ReadNetworkConfig(path string) (engine.NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read network configuration %s", path), err)
	}
	return ParseNetworkConfig(data)
}

// ParseNetworkConfig decodes a project network configuration written in
// YAML or JSON. UTF-16 input, as written by PowerShell redirection, is
// converted first.
func ParseNetworkConfig(data []byte) (engine.NetworkConfig, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data)
		if err != nil {
			return nil, engine.NewConfigurationError("network configuration is not valid UTF-16", err)
		}
		data = decoded
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, engine.NewConfigurationError("network configuration is empty", nil)
	}

	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, engine.NewConfigurationError("invalid network configuration, expected YAML or JSON", err)
	}
	if len(cfg) == 0 {
		return nil, engine.NewConfigurationError("network configuration is empty", nil)
	}
	return engine.NetworkConfig(cfg), nil
}

// MarshalNetworkConfig renders a network configuration as YAML.
func MarshalNetworkConfig(cfg engine.NetworkConfig) ([]byte, error) {
	return yaml.Marshal(map[string]any(cfg))
}
