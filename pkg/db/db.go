package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	Close() error
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Close() error
}

// ExecQueryer is satisfied by *sql.DB.
type ExecQueryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Close() error
}

type loggingQueryer struct {
	queryer    Queryer
	logger     log.FieldLogger
	logQueries bool
}

func NewLoggingQueryer(queryer Queryer, logger log.FieldLogger, logQueries bool) *loggingQueryer {
	return &loggingQueryer{
		queryer:    queryer,
		logger:     logger,
		logQueries: logQueries,
	}
}

func (q *loggingQueryer) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if q.logQueries {
		q.logger.Debugf("QUERY: %s [%s]", query, argsString(args...))
	}
	return q.queryer.QueryContext(ctx, query, args...)
}

func (q *loggingQueryer) Close() error {
	return q.queryer.Close()
}

type loggingExecer struct {
	execer     Execer
	logger     log.FieldLogger
	logQueries bool
}

func NewLoggingExecer(execer Execer, logger log.FieldLogger, logQueries bool) *loggingExecer {
	return &loggingExecer{
		execer:     execer,
		logger:     logger,
		logQueries: logQueries,
	}
}

func (e *loggingExecer) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if e.logQueries {
		e.logger.Debugf("EXEC: %s [%s]", query, argsString(args...))
	}
	return e.execer.ExecContext(ctx, query, args...)
}

func (e *loggingExecer) Close() error {
	return e.execer.Close()
}

type loggingExecQueryer struct {
	*loggingQueryer
	execer *loggingExecer
}

// NewLoggingExecQueryer logs queries and statements independently, so DML
// can be logged without the row lookups that accompany it.
func NewLoggingExecQueryer(eq ExecQueryer, logger log.FieldLogger, logQueries, logExecs bool) ExecQueryer {
	return &loggingExecQueryer{
		loggingQueryer: NewLoggingQueryer(eq, logger, logQueries),
		execer:         NewLoggingExecer(eq, logger, logExecs),
	}
}

func (eq *loggingExecQueryer) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return eq.execer.ExecContext(ctx, query, args...)
}

// argsString pretty prints arguments passed into it for logging query
// arguments
func argsString(args ...interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		var v interface{} = a
		if x, ok := v.(driver.Valuer); ok {
			if y, err := x.Value(); err == nil {
				v = y
			}
		}
		switch v.(type) {
		case string, []byte:
			v = fmt.Sprintf("%q", v)
		default:
			v = fmt.Sprintf("%v", v)
		}
		parts[i] = fmt.Sprintf("%d:%s", i+1, v)
	}
	return strings.Join(parts, " ")
}
