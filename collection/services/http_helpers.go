package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	decreaseFactor = 0.8 // Reduce aggressively on failure
	increaseFactor = 0.2 // Increase conservatively on success
	minLimit       = 1   // Minimum requests per second
)

type AdaptiveRateLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	limiter     *rate.Limiter
	maxIncrease rate.Limit
}

func (a *AdaptiveRateLimiter) Fail() {
	a.mu.Lock()
	defer a.mu.Unlock()

	newLimit := max(rate.Limit(float64(a.limit)*(1-decreaseFactor)), minLimit)
	a.setLimit(newLimit)
}

func (a *AdaptiveRateLimiter) Succeed() {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Increase limit more conservatively, up to maxIncrease
	newLimit := min(rate.Limit(float64(a.limit)*(1+increaseFactor)), a.limit+a.maxIncrease)

	a.setLimit(newLimit)
}

func (a *AdaptiveRateLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *AdaptiveRateLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit
}

func (a *AdaptiveRateLimiter) setLimit(newLimit rate.Limit) {
	a.limit = newLimit
	a.limiter.SetLimit(a.limit)
}

func NewAdaptiveRateLimiter(startingLimit rate.Limit, startingBurst int, maxIncrease rate.Limit) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		limit:       startingLimit,
		burst:       startingBurst,
		limiter:     rate.NewLimiter(startingLimit, startingBurst),
		mu:          sync.Mutex{},
		maxIncrease: maxIncrease,
	}
}

type RateLimiter interface {
	Succeed()
	Fail()
	Wait(context.Context) error
}

type rateLimitedRoundTripper struct {
	transport http.RoundTripper
	limiter   RateLimiter
}

func (rt *rateLimitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	resp, err := rt.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// the portal answers a wrong password with 401, which says nothing about load
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		rt.limiter.Fail()
	} else {
		rt.limiter.Succeed()
	}

	return resp, nil
}

func addRateLimiter(client *http.Client, limiter RateLimiter) {
	rt := &rateLimitedRoundTripper{
		limiter: limiter,
	}
	if client.Transport == nil {
		rt.transport = http.DefaultTransport
	} else {
		rt.transport = client.Transport
	}
	client.Transport = rt
}

type loggerRoundTripper struct {
	logger    *log.Entry
	transport http.RoundTripper
	requestID int32
}

func (rt *loggerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !rt.logger.Logger.IsLevelEnabled(log.TraceLevel) {
		return rt.transport.RoundTrip(req)
	}

	currentID := atomic.AddInt32(&rt.requestID, 1)
	rt.logger.WithFields(log.Fields{"method": req.Method, "url": req.URL.String(), "id": currentID}).
		Trace("outgoing request")

	resp, err := rt.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	rt.logger.WithFields(log.Fields{"status": resp.Status, "url": req.URL.String(), "id": currentID}).
		Trace("response received")
	return resp, nil
}

func addHttpReporting(client *http.Client, logger *log.Entry) {
	rt := &loggerRoundTripper{logger: logger}
	if client.Transport == nil {
		rt.transport = http.DefaultTransport
	} else {
		rt.transport = client.Transport
	}
	client.Transport = rt
}

// retryLog warns about every retry on the session's own logger.
// retryablehttp hands the hook its internal logger wrapper, not ours.
func retryLog(logger *log.Entry) retryablehttp.RequestLogHook {
	return func(_ retryablehttp.Logger, req *http.Request, retryCount int) {
		if retryCount == 0 {
			return
		}
		logger.WithField("try", retryCount).Warnf("retrying %s %s", req.Method, req.URL)
	}
}

// builds the std client every session uses:
//
//	rate limiter -> request logging -> retryablehttp -> pooled transport
//
// redirects are followed by the outer client only so that every hop goes
// through the caller's cookie jar
func NewRetryClientWithLimiter(logger *log.Entry, limiter RateLimiter, retryMax int) *http.Client {
	return NewRetryClient(logger, limiter, retryMax, nil)
}

// NewRetryClient is NewRetryClientWithLimiter over a custom transport; nil
// keeps the pooled default.
func NewRetryClient(logger *log.Entry, limiter RateLimiter, retryMax int, transport http.RoundTripper) *http.Client {
	client := retryablehttp.NewClient()
	if transport != nil {
		client.HTTPClient.Transport = transport
	}
	var l retryablehttp.LeveledLogger = LogrusLogger{Entry: logger}
	client.Logger = l
	client.RetryMax = retryMax
	client.RequestLogHook = retryLog(logger)
	client.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	// hand the final response back instead of an opaque "giving up" error
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	stdClient := client.StandardClient()
	addHttpReporting(stdClient, logger)
	if limiter != nil {
		addRateLimiter(stdClient, limiter)
	}
	return stdClient
}

// shorthand to check if a response is within 200-299
func IsOk(r *http.Response) bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// returns a ErrTemporaryNetworkFailure wrapped error of either
// the respErr if not nill or status code if non "Ok"
func RespOrStatusErr(r *http.Response, respErr error) error {
	if respErr != nil {
		return errors.Join(ErrTemporaryNetworkFailure, respErr)
	}
	if !IsOk(r) {
		return fmt.Errorf(
			"%w Got status code %d",
			ErrTemporaryNetworkFailure,
			r.StatusCode,
		)
	}
	return nil
}
