package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/metrics"
)

// RateSource yields the current reference lending rate.
type RateSource interface {
	ReferenceRate(ctx context.Context) (decimal.Decimal, error)
}

// RateSink receives the refreshed platform default rate.
type RateSink interface {
	SetDefaultInterestRate(rate decimal.Decimal)
}

// RateRefresher keeps the platform default interest rate aligned with
// the central bank reference rate. Institutions with a rate of their
// own are unaffected; the refreshed value only backs credits of
// institutions without one.
type RateRefresher struct {
	source  RateSource
	sink    RateSink
	metrics *metrics.Collector
	log     *logrus.Logger
}

func NewRateRefresher(source RateSource, sink RateSink, collector *metrics.Collector, log *logrus.Logger) *RateRefresher {
	return &RateRefresher{
		source:  source,
		sink:    sink,
		metrics: collector,
		log:     log,
	}
}

func (j *RateRefresher) Name() string { return "rate_refresh" }

// Run fetches the reference rate and installs it as the platform
// default. A fetch failure leaves the previous rate in place.
func (j *RateRefresher) Run(ctx context.Context) error {
	start := time.Now()
	defer func() { j.metrics.ObserveJobRun(j.Name(), time.Since(start)) }()

	rate, err := j.source.ReferenceRate(ctx)
	if err != nil {
		j.metrics.JobItemError(j.Name())
		return fmt.Errorf("rate refresh aborted: %w", err)
	}
	if rate.LessThanOrEqual(decimal.Zero) {
		j.metrics.JobItemError(j.Name())
		return fmt.Errorf("rate refresh aborted: non-positive rate %s", rate)
	}

	j.sink.SetDefaultInterestRate(rate)
	j.log.WithField("rate", rate).Info("Default interest rate refreshed")
	return nil
}
