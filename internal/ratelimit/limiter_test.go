package ratelimit_test

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/ratelimit"
)

var testClient *redis.Client

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}

	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}

	resource.Expire(120)

	pool.MaxWait = 60 * time.Second
	if err := pool.Retry(func() error {
		testClient = redis.NewClient(&redis.Options{
			Addr: resource.GetHostPort("6379/tcp"),
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return testClient.Ping(ctx).Err()
	}); err != nil {
		log.Fatalf("Could not connect to redis: %s", err)
	}

	code := m.Run()

	testClient.Close()

	if err := pool.Purge(resource); err != nil {
		log.Fatalf("Could not purge resource: %s", err)
	}

	os.Exit(code)
}

// LimiterSuite tests the sliding window against a real Redis instance.
//
// Justification: the admission decision depends on sorted-set and TTL
// semantics that an in-memory fake would have to reimplement.
type LimiterSuite struct {
	suite.Suite
	ctx context.Context
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(testClient.FlushDB(s.ctx).Err())
}

func (s *LimiterSuite) newLimiter(maxRequests int, window time.Duration) *ratelimit.SlidingWindowLimiter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ratelimit.NewSlidingWindowLimiter(testClient, maxRequests, window, logger)
}

func (s *LimiterSuite) TestAdmissionBound() {
	limiter := s.newLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, remaining, err := limiter.Allow(s.ctx, "client:a")
		s.Require().NoError(err)
		s.True(allowed, "request %d should be admitted", i+1)
		s.Equal(3-i-1, remaining)
	}

	allowed, remaining, err := limiter.Allow(s.ctx, "client:a")
	s.Require().NoError(err)
	s.False(allowed, "fourth request must be rejected")
	s.Equal(0, remaining)
}

func (s *LimiterSuite) TestIdentifiersAreIsolated() {
	limiter := s.newLimiter(1, time.Minute)

	allowed, _, err := limiter.Allow(s.ctx, "client:a")
	s.Require().NoError(err)
	s.True(allowed)

	allowed, _, err = limiter.Allow(s.ctx, "client:a")
	s.Require().NoError(err)
	s.False(allowed, "client:a exhausted its budget")

	allowed, _, err = limiter.Allow(s.ctx, "client:b")
	s.Require().NoError(err)
	s.True(allowed, "client:b has its own budget")
}

func (s *LimiterSuite) TestRemainingDoesNotConsume() {
	limiter := s.newLimiter(5, time.Minute)

	_, _, err := limiter.Allow(s.ctx, "client:a")
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		remaining, err := limiter.Remaining(s.ctx, "client:a")
		s.Require().NoError(err)
		s.Equal(4, remaining, "Remaining must not record a request")
	}
}

func (s *LimiterSuite) TestWindowSlides() {
	limiter := s.newLimiter(2, time.Second)

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(s.ctx, "client:a")
		s.Require().NoError(err)
		s.True(allowed)
	}

	allowed, _, err := limiter.Allow(s.ctx, "client:a")
	s.Require().NoError(err)
	s.False(allowed)

	time.Sleep(1100 * time.Millisecond)

	allowed, _, err = limiter.Allow(s.ctx, "client:a")
	s.Require().NoError(err)
	s.True(allowed, "requests admitted again after the window slides")
}

func (s *LimiterSuite) TestRejectedRequestStillBurnsWindow() {
	limiter := s.newLimiter(1, time.Minute)

	allowed, _, err := limiter.Allow(s.ctx, "client:a")
	s.Require().NoError(err)
	s.True(allowed)

	// Each rejected attempt is recorded too, so the count keeps growing.
	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(s.ctx, "client:a")
		s.Require().NoError(err)
		s.False(allowed)
	}

	count, err := testClient.ZCard(s.ctx, "ratelimit:client:a").Result()
	s.Require().NoError(err)
	s.Equal(int64(3), count)
}
