package config

import (
	"os"
	"time"

	"PPost/tools"
	"PPost/tools/errs"

	"gopkg.in/yaml.v3"
)

const (
	EnvMongoURI   = "PPOST_MONGO_URI"
	EnvRedisAddr  = "PPOST_REDIS_ADDR"
	EnvNatsURL    = "PPOST_NATS_URL"
	EnvLinkSecret = "PPOST_LINK_SECRET"
	EnvLinkURL    = "PPOST_LINK_URL"
	EnvHTTPAddr   = "PPOST_HTTP_ADDR"
	EnvNodeID     = "PPOST_NODE_ID"
	EnvLogLevel   = "PPOST_LOG_LEVEL"
)

func (c *StoreConfig) norm() {
	c.NodeType = NodeTypePointStore
	if c.NodeID <= 0 {
		c.NodeID = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
	c.Link.norm()
	if c.Mongo.Uri != "" || len(c.Mongo.Address) > 0 {
		if c.Mongo.Database == "" {
			c.Mongo.Database = "ppost"
		}
		if c.Mongo.MaxPoolSize <= 0 {
			c.Mongo.MaxPoolSize = 20
		}
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 10
	}
	// lifecycle, watch and pool zero values are filled by their packages
}

func (c *FrontendConfig) norm() {
	c.NodeType = NodeTypeFrontend
	if c.Peer == "" {
		c.Peer = "frontend"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8091"
	}
	if c.Link.URL == "" {
		c.Link.URL = "ws://127.0.0.1:8090/link"
	}
	c.Link.norm()
	if c.WatchRadius <= 0 {
		c.WatchRadius = 500
	}
}

func (l *LinkConfig) norm() {
	// CallTimeout and backoff zero values fall through to service/rpc defaults
	if l.TokenTTL <= 0 {
		l.TokenTTL = 24 * time.Hour
	}
}

// LoadStore reads path (optional), applies environment overrides and defaults.
func LoadStore(path string) (*StoreConfig, error) {
	c := &StoreConfig{}
	if err := readYAML(path, c); err != nil {
		return nil, err
	}
	c.NodeID = tools.GetEnvInt64(EnvNodeID, c.NodeID)
	c.LogLevel = tools.GetEnv(EnvLogLevel, c.LogLevel)
	c.Mongo.Uri = tools.GetEnv(EnvMongoURI, c.Mongo.Uri)
	c.Redis.Addr = tools.GetEnv(EnvRedisAddr, c.Redis.Addr)
	c.Nats.Servers = tools.GetEnvList(EnvNatsURL, c.Nats.Servers)
	c.Link.Secret = tools.GetEnv(EnvLinkSecret, c.Link.Secret)
	c.HTTP.Addr = tools.GetEnv(EnvHTTPAddr, c.HTTP.Addr)
	c.norm()
	return c, nil
}

// LoadFrontend reads path (optional), applies environment overrides and defaults.
func LoadFrontend(path string) (*FrontendConfig, error) {
	c := &FrontendConfig{}
	if err := readYAML(path, c); err != nil {
		return nil, err
	}
	c.LogLevel = tools.GetEnv(EnvLogLevel, c.LogLevel)
	c.Link.Secret = tools.GetEnv(EnvLinkSecret, c.Link.Secret)
	c.Link.URL = tools.GetEnv(EnvLinkURL, c.Link.URL)
	c.HTTP.Addr = tools.GetEnv(EnvHTTPAddr, c.HTTP.Addr)
	c.norm()
	return c, nil
}

func readYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return errs.WrapMsg(err, "read config", "path", path)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return errs.ErrArgs.WrapMsg("parse config", "path", path, "err", err)
	}
	return nil
}
