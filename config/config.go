// Package config holds the normalized configuration of an entity manager
// resource. Both legacy configuration shapes, a structured tree and a flat
// bag of dotted properties, are converted into a *Config by the adapters
// of this package; ini and yaml files are loaded through them.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/easybib/ormresource/cache"
	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
)

// Config is the configuration of a resource.
type Config struct {
	Connection Connection
	Proxy      Proxy
	// ModelFolder is the entity folder relative to the root and module
	// paths.
	ModelFolder string
	// Cache names the metadata and query cache kind. Legacy cache class
	// names are accepted.
	Cache string
	// CacheDir is the directory of a filesystem cache, relative to the
	// root path unless absolute.
	CacheDir                 string
	AutoGenerateProxyClasses bool
	NamingStrategy           string
}

// Connection holds the database connection settings.
type Connection struct {
	Driver   string
	DBName   string
	User     string
	Password string
	Host     string
	Port     int
	Charset  string
	Path     string
	Memory   bool
}

// Proxy holds the proxy generation settings.
type Proxy struct {
	Namespace string
	Folder    string
}

// Params returns the connection parameters of the settings.
func (c Connection) Params() sql.ConnectionParams {
	return sql.ConnectionParams{
		Driver:   c.Driver,
		DBName:   c.DBName,
		User:     c.User,
		Password: c.Password,
		Host:     c.Host,
		Port:     c.Port,
		Charset:  c.Charset,
		Path:     c.Path,
		Memory:   c.Memory,
	}
}

// CacheKind returns the parsed cache kind.
func (c *Config) CacheKind() (cache.Kind, error) {
	return cache.ParseKind(c.Cache)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil configuration")
	}
	if c.Connection.Driver == "" {
		return &Error{Key: "connection.driver", Err: errors.New("required")}
	}
	if _, err := c.Connection.Params().Dialect(); err != nil {
		return &Error{Key: "connection.driver", Err: err}
	}
	if c.ModelFolder == "" {
		return &Error{Key: "modelFolder", Err: errors.New("required")}
	}
	if _, err := c.CacheKind(); err != nil {
		return &Error{Key: "cache", Err: err}
	}
	if _, err := mapping.NamingStrategyFor(c.NamingStrategy); err != nil {
		return &Error{Key: "namingStrategy", Err: err}
	}
	return nil
}

// Error reports an invalid configuration value.
type Error struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// FromTree converts a structured configuration tree: nested maps for
// "connection" and "proxy", scalars for the other keys. Unknown keys are
// ignored. "cacheImplementation" is read when "cache" is absent.
func FromTree(tree map[string]any) (*Config, error) {
	c := &Config{}
	var err error
	str := func(m map[string]any, key, path string) string {
		if err != nil {
			return ""
		}
		var s string
		s, err = stringOf(m[key], path)
		return s
	}
	flag := func(m map[string]any, key, path string) bool {
		if err != nil {
			return false
		}
		var b bool
		b, err = Bool(m[key])
		if err != nil {
			err = &Error{Key: path, Err: err}
		}
		return b
	}

	conn, cerr := section(tree, "connection")
	if cerr != nil {
		return nil, cerr
	}
	c.Connection = Connection{
		Driver:   str(conn, "driver", "connection.driver"),
		DBName:   str(conn, "dbname", "connection.dbname"),
		User:     str(conn, "user", "connection.user"),
		Password: str(conn, "password", "connection.password"),
		Host:     str(conn, "host", "connection.host"),
		Charset:  str(conn, "charset", "connection.charset"),
		Path:     str(conn, "path", "connection.path"),
		Memory:   flag(conn, "memory", "connection.memory"),
	}
	if port := str(conn, "port", "connection.port"); port != "" && err == nil {
		if c.Connection.Port, err = strconv.Atoi(port); err != nil {
			err = &Error{Key: "connection.port", Err: err}
		}
	}
	proxy, perr := section(tree, "proxy")
	if perr != nil {
		return nil, perr
	}
	c.Proxy = Proxy{
		Namespace: str(proxy, "namespace", "proxy.namespace"),
		Folder:    str(proxy, "folder", "proxy.folder"),
	}
	c.ModelFolder = str(tree, "modelFolder", "modelFolder")
	c.Cache = str(tree, "cache", "cache")
	if c.Cache == "" {
		c.Cache = str(tree, "cacheImplementation", "cacheImplementation")
	}
	c.CacheDir = str(tree, "cacheDir", "cacheDir")
	c.AutoGenerateProxyClasses = flag(tree, "autoGenerateProxyClasses", "autoGenerateProxyClasses")
	c.NamingStrategy = str(tree, "namingStrategy", "namingStrategy")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FromProperties converts a flat property bag with dotted keys such as
// "connection.driver" and "proxy.folder".
func FromProperties(props map[string]string) (*Config, error) {
	tree := make(map[string]any)
	for key, value := range props {
		if err := put(tree, strings.Split(key, "."), value); err != nil {
			return nil, &Error{Key: key, Err: err}
		}
	}
	return FromTree(tree)
}

// put stores value under the path of nested maps.
func put(tree map[string]any, path []string, value string) error {
	if len(path) == 1 {
		if _, ok := tree[path[0]].(map[string]any); ok {
			return errors.New("conflicts with a section of the same name")
		}
		tree[path[0]] = value
		return nil
	}
	sub, ok := tree[path[0]].(map[string]any)
	if !ok {
		if _, set := tree[path[0]]; set {
			return fmt.Errorf("%q is not a section", path[0])
		}
		sub = make(map[string]any)
		tree[path[0]] = sub
	}
	return put(sub, path[1:], value)
}

func section(tree map[string]any, key string) (map[string]any, error) {
	switch v := tree[key].(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return m, nil
	default:
		return nil, &Error{Key: key, Err: fmt.Errorf("expect a section, got %T", v)}
	}
}

func stringOf(v any, path string) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case int, int64, float64, bool:
		return fmt.Sprint(v), nil
	default:
		return "", &Error{Key: path, Err: fmt.Errorf("expect a scalar, got %T", v)}
	}
}

// Bool parses the boolean spellings of configuration files: true, false,
// 1, 0, yes, no, on, off and the empty string. nil is false.
func Bool(v any) (bool, error) {
	switch v := v.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "", "0", "false", "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean %q", v)
	default:
		return false, fmt.Errorf("invalid boolean %T", v)
	}
}
