package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/logging"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/metrics"
)

// Limiter is the rate-limiting contract the interceptor needs.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, int, error)
	Window() time.Duration
}

// MetricsInterceptor records duration and count per method and final
// status code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// rateLimitExemptPrefixes lists methods that bypass rate limiting.
var rateLimitExemptPrefixes = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.v1alpha.",
	"/grpc.reflection.v1.",
}

// RateLimitInterceptor rejects requests over the caller's budget with
// ResourceExhausted. A limiter failure admits the request: availability
// over strict enforcement when Redis is down.
func RateLimitInterceptor(limiter Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isRateLimitExempt(info.FullMethod) {
			return handler(ctx, req)
		}

		identifier, identifierType := extractIdentifier(ctx, info.FullMethod)

		allowed, _, err := limiter.Allow(ctx, identifier)
		if err != nil {
			logging.WarnContext(ctx, "rate limiter unavailable, admitting request",
				"identifier", identifier,
				"error", err,
			)
			return handler(ctx, req)
		}

		if !allowed {
			metrics.RecordRateLimitExceeded(identifierType)
			logging.WarnContext(ctx, "rate limit exceeded",
				"method", info.FullMethod,
				"identifier", identifier,
			)
			retryAfter := int(limiter.Window().Seconds())
			return nil, status.Errorf(codes.ResourceExhausted,
				"Rate limit exceeded. Retry after %ds", retryAfter)
		}

		return handler(ctx, req)
	}
}

func isRateLimitExempt(fullMethod string) bool {
	for _, prefix := range rateLimitExemptPrefixes {
		if strings.HasPrefix(fullMethod, prefix) {
			return true
		}
	}
	return false
}

// extractIdentifier picks the rate-limit key for a request, in priority
// order: explicit client id, first forwarded-for hop, full method name.
func extractIdentifier(ctx context.Context, fullMethod string) (identifier, identifierType string) {
	md, _ := metadata.FromIncomingContext(ctx)

	if values := md.Get("x-client-id"); len(values) > 0 && values[0] != "" {
		return "client:" + values[0], "client"
	}

	if values := md.Get("x-forwarded-for"); len(values) > 0 && values[0] != "" {
		firstHop := strings.TrimSpace(strings.Split(values[0], ",")[0])
		if firstHop != "" {
			return "ip:" + firstHop, "ip"
		}
	}

	return fmt.Sprintf("method:%s", fullMethod), "method"
}
