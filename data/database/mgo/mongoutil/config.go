package mongoutil

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"PPost/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// mongo auth failures; retrying them only locks the account sooner
const (
	codeUnauthorized = 13
	codeAuthFailed   = 18
)

// Config represents the MongoDB configuration. Uri wins over Address.
type Config struct {
	Uri         string   `yaml:"uri"`
	Address     []string `yaml:"address"`
	Database    string   `yaml:"database"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	AuthSource  string   `yaml:"authSource"`
	MaxPoolSize int      `yaml:"maxPoolSize"`
	MaxRetry    int      `yaml:"maxRetry"`
}

// ValidateAndSetDefaults fills pool and retry defaults and derives Uri from
// Address when no Uri is given.
func (c *Config) ValidateAndSetDefaults() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.ErrArgs.WrapMsg("mongo: either uri or address must be provided")
	}
	if c.Database == "" {
		return errs.ErrArgs.WrapMsg("mongo: database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri == "" {
		c.Uri = c.buildURI()
	}
	return nil
}

// authSource 默认是业务库
func (c *Config) buildURI() string {
	src := c.AuthSource
	if src == "" {
		src = c.Database
	}
	q := url.Values{}
	q.Set("authSource", src)
	q.Set("maxPoolSize", strconv.Itoa(c.MaxPoolSize))
	u := url.URL{
		Scheme:   "mongodb",
		Host:     strings.Join(c.Address, ","),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	if c.Username != "" && c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != codeUnauthorized && cmdErr.Code != codeAuthFailed
	}
	return true
}
