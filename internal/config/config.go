package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string
	JWTSecret   string

	// CloudProvider selects the identity/directory/event backends:
	// in-memory fakes or the real AWS services.
	CloudProvider string

	EventBusName string

	// OU id per account pool, e.g. "Entry=ou-ab12,Available=ou-cd34,...".
	OUMap map[string]string

	SSOInstanceARN   string
	IdentityStoreID  string
	PermissionSetMap map[string]string
	GroupMap         map[string]string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:       envOrDefault("SBX_LISTEN_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("SBX_DATABASE_URL"),
		JWTSecret:        os.Getenv("SBX_JWT_SECRET"),
		CloudProvider:    envOrDefault("SBX_CLOUD_PROVIDER", "fake"),
		EventBusName:     envOrDefault("SBX_EVENT_BUS", "sandbox-events"),
		OUMap:            parseKVMap(os.Getenv("SBX_OU_MAP")),
		SSOInstanceARN:   os.Getenv("SBX_SSO_INSTANCE_ARN"),
		IdentityStoreID:  os.Getenv("SBX_IDENTITY_STORE_ID"),
		PermissionSetMap: parseKVMap(os.Getenv("SBX_PERMISSION_SET_MAP")),
		GroupMap:         parseKVMap(os.Getenv("SBX_GROUP_MAP")),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("SBX_DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("SBX_JWT_SECRET is required")
	}
	if cfg.CloudProvider != "fake" && cfg.CloudProvider != "aws" {
		return Config{}, fmt.Errorf("SBX_CLOUD_PROVIDER must be one of fake|aws")
	}
	if cfg.CloudProvider == "aws" {
		if len(cfg.OUMap) == 0 {
			return Config{}, fmt.Errorf("SBX_OU_MAP is required for aws cloud provider")
		}
		if cfg.SSOInstanceARN == "" {
			return Config{}, fmt.Errorf("SBX_SSO_INSTANCE_ARN is required for aws cloud provider")
		}
		if cfg.IdentityStoreID == "" {
			return Config{}, fmt.Errorf("SBX_IDENTITY_STORE_ID is required for aws cloud provider")
		}
		if len(cfg.PermissionSetMap) == 0 {
			return Config{}, fmt.Errorf("SBX_PERMISSION_SET_MAP is required for aws cloud provider")
		}
		if len(cfg.GroupMap) == 0 {
			return Config{}, fmt.Errorf("SBX_GROUP_MAP is required for aws cloud provider")
		}
	}
	return cfg, nil
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func ParsePositiveIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return d
	}
	return n
}

func parseKVMap(v string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(v) == "" {
		return out
	}
	pairs := strings.Split(v, ",")
	for _, p := range pairs {
		parts := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(parts) != 2 {
			continue
		}
		k := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if k != "" && val != "" {
			out[k] = val
		}
	}
	return out
}
