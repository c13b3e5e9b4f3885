package presto

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/kube-reporting/theft-lakehouse/pkg/db"
)

type HealthChecker struct {
	logger  logrus.FieldLogger
	queryer db.Queryer

	// at most one test read runs against Presto at a time
	healthCheckSingleFlight singleflight.Group
}

func NewHealthChecker(logger logrus.FieldLogger, queryer db.Queryer) *HealthChecker {
	return &HealthChecker{
		logger:  logger.WithField("component", "prestoHealthChecker"),
		queryer: queryer,
	}
}

func (checker *HealthChecker) TestReadFromPrestoSingleFlight(ctx context.Context) bool {
	const key = "presto-read"
	v, _, _ := checker.healthCheckSingleFlight.Do(key, func() (interface{}, error) {
		defer checker.healthCheckSingleFlight.Forget(key)
		return checker.TestReadFromPresto(ctx), nil
	})
	return v.(bool)
}

func (checker *HealthChecker) TestReadFromPresto(ctx context.Context) bool {
	_, err := ExecuteSelect(ctx, checker.queryer, "SELECT * FROM system.runtime.nodes")
	if err != nil {
		checker.logger.WithError(err).Debugf("cannot query Presto system.runtime.nodes table")
		return false
	}
	return true
}
