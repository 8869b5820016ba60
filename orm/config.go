package orm

import (
	"errors"
	"log/slog"

	"github.com/easybib/ormresource/cache"
	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
)

// Configuration holds the settings of an entity manager.
type Configuration struct {
	// MetadataDriver reads the class mappings.
	MetadataDriver mapping.Driver
	// MetadataCache caches the class mappings read by MetadataDriver.
	MetadataCache cache.Cache
	// QueryCache caches the SQL generated by repositories.
	QueryCache cache.Cache
	// ProxyDir is the directory generated proxies are written to.
	ProxyDir string
	// ProxyNamespace is the package name of generated proxies.
	ProxyNamespace string
	// AutoGenerateProxyClasses generates the proxy of a class the first
	// time a reference to it is created.
	AutoGenerateProxyClasses bool
	// NamingStrategy derives table and column names mappings omit.
	NamingStrategy mapping.NamingStrategy
	// SQLLogger receives every statement sent to the database.
	SQLLogger sql.LogFunc
	// CollectStats enables the statistics returned by QueryStats.
	CollectStats bool
	Logger       *slog.Logger
}

// NewConfiguration returns a configuration with in-memory caches and the
// default naming strategy.
func NewConfiguration(d mapping.Driver) *Configuration {
	return &Configuration{
		MetadataDriver: d,
		MetadataCache:  cache.NewMemory(),
		QueryCache:     cache.NewMemory(),
		ProxyNamespace: "proxies",
		NamingStrategy: mapping.DefaultNamingStrategy{},
	}
}

func (c *Configuration) validate() error {
	if c == nil {
		return errors.New("orm: missing configuration")
	}
	if c.MetadataDriver == nil {
		return errors.New("orm: configuration has no metadata driver")
	}
	if c.AutoGenerateProxyClasses && c.ProxyDir == "" {
		return errors.New("orm: proxy generation requires a proxy directory")
	}
	return nil
}

func (c *Configuration) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
