package config

import "strings"

type CORSConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type CORS struct{}

var _ CORSConfig = CORS{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

// GetAllowedOrigins is driven by BROKER_CORS_ORIGINS, a comma-separated list.
// A bare "*" allows any origin without credentials.
func (CORS) GetAllowedOrigins() AllowedOrigins {
	origins := AllowedOrigins{}
	raw := GetEnv("BROKER_CORS_ORIGINS", "*")
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins[o] = nullValue{}
		}
	}
	return origins
}

func (CORS) GetAllowedMethods() string {
	return "GET, POST"
}

func (CORS) GetAllowedHeaders() string {
	return "Content-Type, Authorization"
}
