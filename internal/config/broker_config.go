package config

import "time"

// BrokerConfig covers the broker's own identity (JWT issuer/audience), key
// material location, and session-store lifecycle bounds (spec.md §3, §6).
type BrokerConfig interface {
	GetBrokerIssuer() string
	GetBrokerJWTAudience() string
	GetBrokerJWTLifetime() time.Duration
	GetSessionTTL() time.Duration
	GetExchangeTTL() time.Duration
	GetSessionMax() int
	GetPrivateKeyPath() string
	GetPublicKeyPath() string
	GetKeyID() string
}

type Broker struct{}

var _ BrokerConfig = Broker{}

func (Broker) GetBrokerIssuer() string {
	return GetEnv("BROKER_ISSUER", "bazel-auth-broker")
}

func (Broker) GetBrokerJWTAudience() string {
	return GetEnv("BROKER_JWT_AUDIENCE", "bazel-vault")
}

// GetBrokerJWTLifetime is fixed at 5 minutes per spec.md §4.5; not
// environment-configurable since it is a correctness-sensitive bound.
func (Broker) GetBrokerJWTLifetime() time.Duration {
	return 5 * time.Minute
}

func (Broker) GetSessionTTL() time.Duration {
	return envSeconds("BROKER_SESSION_TTL_SECS", 600)
}

func (Broker) GetExchangeTTL() time.Duration {
	return envSeconds("BROKER_EXCHANGE_TTL_SECS", 300)
}

func (Broker) GetSessionMax() int {
	return envInt("BROKER_SESSION_MAX", 10000)
}

func (Broker) GetPrivateKeyPath() string {
	return GetEnv("BROKER_PRIVATE_KEY_PATH", "./keys/broker.key")
}

func (Broker) GetPublicKeyPath() string {
	return GetEnv("BROKER_PUBLIC_KEY_PATH", "./keys/broker.pub")
}

func (Broker) GetKeyID() string {
	return GetEnv("BROKER_KEY_ID", "")
}
