// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
)

// Config is the process-wide configuration, loaded once at startup and
// passed explicitly through service constructors.
type Config struct {
	HTTPPort    string
	MetricsAddr string

	DBHost string
	DBPort string
	DBName string
	DBUser string
	DBPass string

	// External service bases. All calls against them are bounded at ~10s
	// and degrade to empty data on failure.
	NHTSABase       string
	NHTSARecalls    string
	NHTSAComplaints string
	NHTSARatings    string
	EPABase         string
	TCRecalls       string

	UploadDir string
}

// Load reads configuration from the environment, applying the same
// defaults as previous deployments so older .env files keep working.
func Load() *Config {
	return &Config{
		HTTPPort:    getenv("HTTP_PORT", "8930"),
		MetricsAddr: getenv("METRICS_ADDR", ""),

		DBHost: getenv("DB_HOST", "localhost"),
		DBPort: getenv("DB_PORT", "5432"),
		DBName: getenv("DB_NAME", "autoverif_db"),
		DBUser: getenv("DB_USER", "autoverif_user"),
		DBPass: getenv("DB_PASS", ""),

		NHTSABase:       getenv("NHTSA_BASE", "https://vpic.nhtsa.dot.gov/api"),
		NHTSARecalls:    getenv("NHTSA_RECALLS", "https://api.nhtsa.gov/recalls/recallsByVehicle"),
		NHTSAComplaints: getenv("NHTSA_COMPLAINTS", "https://api.nhtsa.gov/complaints/complaintsByVehicle"),
		NHTSARatings:    getenv("NHTSA_RATINGS", "https://api.nhtsa.gov/SafetyRatings"),
		EPABase:         getenv("EPA_BASE", "https://www.fueleconomy.gov/ws/rest"),
		TCRecalls:       getenv("TC_RECALLS", "https://data.tc.gc.ca/v1.3/api/eng/vehicle-recall-database"),

		UploadDir: getenv("UPLOAD_DIR", "uploads"),
	}
}

// PostgresURL renders the pgx connection string.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName,
	)
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
