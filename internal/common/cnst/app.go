package cnst

const (
	// AppName is the binary and default service name
	AppName = "msgate"

	// CtxKeyPrincipal is the gin context key holding the authenticated principal
	CtxKeyPrincipal = "principal"

	// GlobalTopic is the broadcaster topic delivered to every connected subscriber
	GlobalTopic = ""

	// MinJWTSecretLength is the shortest HMAC signing key accepted
	MinJWTSecretLength = 32
)

const (
	// UserStoreMemory keeps users in process memory
	UserStoreMemory = "memory"
	// UserStoreDatabase keeps users in a gorm-backed database
	UserStoreDatabase = "database"
)

const (
	DatabaseSQLite   = "sqlite"
	DatabaseMySQL    = "mysql"
	DatabasePostgres = "postgres"
)

const (
	// BackendSimulator is the in-process backend used for development and demos
	BackendSimulator = "simulator"
)

const (
	RedisClusterTypeSingle   = "single"
	RedisClusterTypeSentinel = "sentinel"
	RedisClusterTypeCluster  = "cluster"
)
