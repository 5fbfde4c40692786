package config

import (
	"strings"
	"time"
)

// Store drivers understood by the API binary.
const (
	StoreDriverMongo  = "mongo"
	StoreDriverMemory = "memory"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment             string
	Addr                    string
	StoreDriver             string
	MongoURI                string
	MongoDatabase           string
	JWTSecret               string
	AccessTokenTTL          time.Duration
	BcryptCost              int
	CORSOrigins             []string
	LogLevel                string
	RateLimitAuth           int
	RateLimitWrite          int
	RateLimitWindow         time.Duration
	RateLimitRedisAddr      string
	RateLimitRedisPass      string
	RateLimitRedisDB        int
	RequireAuthAllMutations bool
	EnforcePostOwnership    bool
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:             GetString("APP_ENV", "development"),
		Addr:                    ":" + strings.TrimPrefix(GetString("PORT", "4549"), ":"),
		StoreDriver:             strings.ToLower(GetString("STORE_DRIVER", StoreDriverMongo)),
		MongoURI:                GetString("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:           GetString("MONGO_DATABASE", "banao-social"),
		JWTSecret:               GetString("JWT_SECRET", ""),
		AccessTokenTTL:          time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		BcryptCost:              GetInt("BCRYPT_COST", 10),
		CORSOrigins:             GetList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:5174"}),
		LogLevel:                GetString("LOG_LEVEL", "info"),
		RateLimitAuth:           GetInt("RATE_LIMIT_AUTH", 12),
		RateLimitWrite:          GetInt("RATE_LIMIT_WRITE", 60),
		RateLimitWindow:         time.Duration(GetInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		RateLimitRedisAddr:      GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:      GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:        GetInt("RATE_LIMIT_REDIS_DB", 0),
		RequireAuthAllMutations: GetBool("REQUIRE_AUTH_ALL_MUTATIONS", false),
		EnforcePostOwnership:    GetBool("ENFORCE_POST_OWNERSHIP", false),
	}
}

// IsProduction reports whether the service runs with production semantics.
func (c APIConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
