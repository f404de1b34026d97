package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "PACKFINDERZ"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"

	DefaultSQLiteDSN = "file:packfinderz_pools.db?cache=shared&_foreign_keys=on"
)

const (
	EnvAppEnv              = "PACKFINDERZ_APP_ENV"
	EnvPort                = "PACKFINDERZ_APP_PORT"
	EnvDBDSN               = "PACKFINDERZ_DB_DSN"
	EnvDBHost              = "PACKFINDERZ_DB_HOST"
	EnvDBUser              = "PACKFINDERZ_DB_USER"
	EnvDBName              = "PACKFINDERZ_DB_NAME"
	EnvUseSQLite           = "PACKFINDERZ_USE_SQLITE"
	EnvRedisURL            = "PACKFINDERZ_REDIS_URL"
	EnvLockBackend         = "PACKFINDERZ_LOCK_BACKEND"
	EnvLockWait            = "PACKFINDERZ_LOCK_WAIT"
	EnvPoolMinimumFraction = "PACKFINDERZ_POOL_MINIMUM_FRACTION"
	EnvCronInterval        = "PACKFINDERZ_CRON_INTERVAL"
	EnvGCPProjectID        = "PACKFINDERZ_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
