package presto

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/prestodb/presto-go-client/presto"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// ConnectionConfig locates a Presto coordinator.
type ConnectionConfig struct {
	Host    string `json:"host" mapstructure:"host" toml:"host"`
	User    string `json:"user,omitempty" mapstructure:"user" toml:"user,omitempty"`
	Catalog string `json:"catalog,omitempty" mapstructure:"catalog" toml:"catalog,omitempty"`
	Schema  string `json:"schema,omitempty" mapstructure:"schema" toml:"schema,omitempty"`
}

func (c ConnectionConfig) DataSourceName() string {
	user := c.User
	if user == "" {
		user = "theft-lakehouse"
	}
	u := url.URL{
		Scheme: "http",
		User:   url.User(user),
		Host:   c.Host,
	}
	q := url.Values{}
	if c.Catalog != "" {
		q.Set("catalog", c.Catalog)
	}
	if c.Schema != "" {
		q.Set("schema", c.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewPrestoConnWithRetry opens a handle to the coordinator and runs a trivial
// query until it succeeds. sql.Open alone never dials, so without the test query
// an unreachable coordinator would only surface on first use.
func NewPrestoConnWithRetry(ctx context.Context, logger log.FieldLogger, connStr string, connBackoff time.Duration, maxRetries int) (*sql.DB, error) {
	conn, err := sql.Open("presto", connStr)
	if err != nil {
		return nil, err
	}
	backoff := wait.Backoff{
		Duration: connBackoff,
		Factor:   1.25,
		Steps:    maxRetries,
	}
	ping := func() (bool, error) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		if err := ExecuteQuery(ctx, conn, "SELECT 1"); err != nil {
			logger.WithError(err).Debugf("presto is not answering queries yet, backing off and trying again")
			return false, nil
		}
		return true, nil
	}
	if err := wait.ExponentialBackoff(backoff, ping); err != nil {
		conn.Close()
		if err == wait.ErrWaitTimeout {
			return nil, fmt.Errorf("timed out while waiting to connect to presto")
		}
		return nil, err
	}
	return conn, nil
}
