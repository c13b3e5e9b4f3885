package hive

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	_ "github.com/taozle/go-hive-driver"
	"k8s.io/apimachinery/pkg/util/wait"
)

// ConnectionConfig locates a HiveServer2 instance.
type ConnectionConfig struct {
	Host           string        `json:"host" mapstructure:"host" toml:"host"`
	User           string        `json:"user,omitempty" mapstructure:"user" toml:"user,omitempty"`
	Database       string        `json:"database,omitempty" mapstructure:"database" toml:"database,omitempty"`
	ConnectTimeout time.Duration `json:"connectTimeout,omitempty" mapstructure:"connect_timeout" toml:"connect_timeout,omitempty"`
	BatchSize      int           `json:"batchSize,omitempty" mapstructure:"batch_size" toml:"batch_size,omitempty"`
}

// DataSourceName renders the connection URL understood by the hive driver.
func (c ConnectionConfig) DataSourceName() string {
	u := url.URL{
		Scheme: "hive",
		Host:   c.Host,
	}
	if c.User != "" {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	batch := c.BatchSize
	if batch <= 0 {
		batch = 500
	}
	q.Set("batch", fmt.Sprintf("%d", batch))
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewHiveConnWithRetry opens a database handle and pings Hive until it
// answers, backing off exponentially between attempts.
func NewHiveConnWithRetry(ctx context.Context, logger log.FieldLogger, dsn string, connBackoff time.Duration, maxRetries int) (*sql.DB, error) {
	var db *sql.DB
	backoff := wait.Backoff{
		Duration: connBackoff,
		Factor:   1.25,
		Steps:    maxRetries,
	}
	cond := func() (bool, error) {
		// check for cancellation
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		conn, err := sql.Open("hive", dsn)
		if err != nil {
			return false, err
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			logger.WithError(err).Debugf("error encountered when connecting to hive, backing off and trying again")
			return false, nil
		}
		db = conn
		return true, nil
	}
	if err := wait.ExponentialBackoff(backoff, cond); err != nil {
		if err == wait.ErrWaitTimeout {
			return nil, fmt.Errorf("timed out while waiting to connect to hive")
		}
		return nil, err
	}
	// the driver holds a single thrift session per connection
	db.SetMaxOpenConns(1)
	return db, nil
}
