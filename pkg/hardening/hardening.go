package hardening

import (
	"fmt"
	"strings"
	"time"
)

type EnvRequirement struct {
	Name  string
	Value string
}

// Options is the startup surface checked in production-like environments.
type Options struct {
	Service               string
	Environment           string
	StrictProdSecurity    string
	RedisAddr             string
	RedisRequireTLS       string
	RedisTLSInsecure      string
	RedisAllowInsecureTLS string
	KafkaEnabled          bool
	KafkaTLS              string
	// SignatureMaxSkew is the freshness window of a service that verifies
	// request signatures. Leave it nil for services that do not.
	SignatureMaxSkew *time.Duration
	RequiredSecrets  []EnvRequirement
}

// ValidateProduction refuses unsafe configurations when ENVIRONMENT is
// production-like and STRICT_PROD_SECURITY is not explicitly false.
func ValidateProduction(o Options) error {
	if !IsProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	for _, req := range o.RequiredSecrets {
		if strings.TrimSpace(req.Name) == "" {
			continue
		}
		if strings.TrimSpace(req.Value) == "" {
			return fmt.Errorf("%s: strict production hardening requires %s", service, req.Name)
		}
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !isTrue(o.RedisRequireTLS, false) {
			return fmt.Errorf("%s: strict production hardening requires REDIS_REQUIRE_TLS=true", service)
		}
		if isTrue(o.RedisTLSInsecure, false) || isTrue(o.RedisAllowInsecureTLS, false) {
			return fmt.Errorf("%s: strict production hardening forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS", service)
		}
	}
	if o.KafkaEnabled && !isTrue(o.KafkaTLS, false) {
		return fmt.Errorf("%s: strict production hardening requires KAFKA_TLS=true", service)
	}
	if o.SignatureMaxSkew != nil && *o.SignatureMaxSkew <= 0 {
		return fmt.Errorf("%s: strict production hardening requires a positive SIGNATURE_MAX_SKEW_SEC", service)
	}
	return nil
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func IsProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
