package container

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"webserver-bench/internal/config"

	"github.com/docker/docker/api/types/registry"
)

// isPrivateRegistryImage reports whether image is hosted on the configured registry.
func isPrivateRegistryImage(image string, registryHost string) bool {
	if registryHost == "" {
		return false
	}
	return strings.HasPrefix(image, registryHost)
}

// createRegistryAuth encodes credentials the way the Docker API expects in X-Registry-Auth.
func createRegistryAuth(registryConfig *config.RegistryConfig) (string, error) {
	if registryConfig == nil {
		return "", nil
	}

	authConfig := registry.AuthConfig{
		Username:      registryConfig.Username,
		Password:      registryConfig.Password,
		ServerAddress: registryConfig.Host,
	}

	authJSON, err := json.Marshal(authConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth config: %w", err)
	}

	return base64.URLEncoding.EncodeToString(authJSON), nil
}
