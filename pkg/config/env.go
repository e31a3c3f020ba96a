package config

// EnvPrefix is handed to envconfig; every field carries an explicit name so the
// prefix only matters for fields without one.
const EnvPrefix = "ATELIER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultSQLiteDSN = "file:atelier.db?_foreign_keys=on"
)

const (
	EnvAppEnv = "ATELIER_APP_ENV"
	EnvPort   = "ATELIER_APP_PORT"

	EnvDBDSN     = "ATELIER_DB_DSN"
	EnvDBDriver  = "ATELIER_DB_DRIVER"
	EnvDBHost    = "ATELIER_DB_HOST"
	EnvDBUser    = "ATELIER_DB_USER"
	EnvDBName    = "ATELIER_DB_NAME"
	EnvDBPass    = "ATELIER_DB_PASSWORD"
	EnvUseSQLite = "ATELIER_USE_SQLITE"

	EnvRedisURL = "ATELIER_REDIS_URL"

	EnvLowStockGrams     = "ATELIER_INVENTORY_LOW_STOCK_GRAMS"
	EnvConsumeMaxRetries = "ATELIER_INVENTORY_CONSUME_MAX_RETRIES"

	EnvDefaultMarginPercent = "ATELIER_PRICING_DEFAULT_MARGIN_PERCENT"
	EnvDefaultTaxPercent    = "ATELIER_PRICING_DEFAULT_TAX_PERCENT"

	EnvGCPProjectID         = "ATELIER_GCP_PROJECT_ID"
	EnvPubSubInventoryTopic = "ATELIER_PUBSUB_INVENTORY_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
