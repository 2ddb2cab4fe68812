package config

const (
	EnvPrefix = "CIRCULUM"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CIRCULUM_DB_DSN"
	EnvDBHost = "CIRCULUM_DB_HOST"
	EnvDBUser = "CIRCULUM_DB_USER"
	EnvDBName = "CIRCULUM_DB_NAME"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
