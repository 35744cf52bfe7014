package database

import "time"

// Pool defaults applied when the caller leaves the corresponding Config
// field at its zero value.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 10
	DefaultConnMaxLifetime = time.Hour
	DefaultConnMaxIdleTime = 15 * time.Minute
)

// NewConfig builds a pool Config from connection parameters, applying
// production defaults for the pool-sizing fields pkg/config does not
// expose directly.
func NewConfig(host string, port int, user, password, dbName, sslMode string) Config {
	return Config{
		Host:            host,
		Port:            port,
		User:            user,
		Password:        password,
		Database:        dbName,
		SSLMode:         sslMode,
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
		ConnMaxIdleTime: DefaultConnMaxIdleTime,
	}
}
