package grpc

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// InterceptorChain 拦截器链
type InterceptorChain struct {
	log     logger.Logger
	limiter service.RateLimiter
}

// NewInterceptorChain 创建拦截器链. limiter may be nil to disable rate limiting.
func NewInterceptorChain(log logger.Logger, limiter service.RateLimiter) *InterceptorChain {
	return &InterceptorChain{
		log:     log.WithComponent("grpc"),
		limiter: limiter,
	}
}

// UnaryRecoveryInterceptor 恢复拦截器(捕获 panic)
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor 日志拦截器
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()

		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			statusCode = status.Code(err)
		}
		ic.log.Info(ctx, "gRPC request completed",
			logger.String("method", info.FullMethod),
			logger.String("client_ip", clientAddress(ctx)),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		)

		return resp, err
	}
}

// UnaryRateLimitInterceptor 限流拦截器. Requests are keyed by owner and client
// address; a failing limiter lets the request through.
func (ic *InterceptorChain) UnaryRateLimitInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if ic.limiter == nil {
			return handler(ctx, req)
		}

		identifier := clientAddress(ctx)
		if scoped, ok := req.(OwnerScoped); ok {
			if owner, err := scoped.OwnerRef(); err == nil {
				identifier = owner.String() + "|" + identifier
			}
		}

		decision, err := ic.limiter.Allow(ctx, identifier)
		if err != nil {
			ic.log.Error(ctx, "rate limit check failed", err,
				logger.String("identifier", identifier),
				logger.String("method", info.FullMethod),
			)
			return handler(ctx, req)
		}

		if !decision.Allowed {
			ic.log.Warn(ctx, "rate limit exceeded",
				logger.String("identifier", identifier),
				logger.String("method", info.FullMethod),
			)
			retry := int64(math.Ceil(decision.RetryAfter.Seconds()))
			_ = grpc.SetTrailer(ctx, metadata.Pairs("retry-after", strconv.FormatInt(retry, 10)))
			return nil, errors.ErrRateLimited(decision.RetryAfter)
		}

		return handler(ctx, req)
	}
}

// UnaryValidationInterceptor 参数验证拦截器
func (ic *InterceptorChain) UnaryValidationInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if scoped, ok := req.(OwnerScoped); ok {
			if _, err := scoped.OwnerRef(); err != nil {
				return nil, err
			}
		}
		if validator, ok := req.(interface{ Validate() error }); ok {
			if err := validator.Validate(); err != nil {
				ic.log.Warn(ctx, "request validation failed",
					logger.String("method", info.FullMethod),
				)
				return nil, err
			}
		}

		return handler(ctx, req)
	}
}

// UnaryErrorInterceptor 错误转换拦截器(将领域错误转换为 gRPC 状态码)
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		if !errors.IsAuthFailure(err) {
			ic.log.Debug(ctx, "gRPC request failed",
				logger.String("method", info.FullMethod), logger.Err(err))
		}
		return resp, convertDomainErrorToGRPC(err)
	}
}

// convertDomainErrorToGRPC 将领域错误转换为 gRPC 错误. The message is the
// external description, so authentication failures stay indistinguishable.
func convertDomainErrorToGRPC(err error) error {
	httpStatus, resp := errors.ToErrorResponse(err)
	return status.Error(codeForHTTPStatus(httpStatus), resp.ErrorDescription)
}

func codeForHTTPStatus(httpStatus int) grpcCodes.Code {
	switch httpStatus {
	case 400:
		return grpcCodes.InvalidArgument
	case 401:
		return grpcCodes.Unauthenticated
	case 403:
		return grpcCodes.PermissionDenied
	case 404:
		return grpcCodes.NotFound
	case 409:
		return grpcCodes.AlreadyExists
	case 429:
		return grpcCodes.ResourceExhausted
	case 503:
		return grpcCodes.Unavailable
	default:
		return grpcCodes.Internal
	}
}

// clientAddress prefers the forwarded address over the transport peer.
func clientAddress(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ips := md.Get("x-forwarded-for"); len(ips) > 0 && ips[0] != "" {
			return ips[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// ChainUnaryInterceptors 链式调用所有拦截器
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(),   // 1. 恢复 panic
		ic.UnaryLoggingInterceptor(),    // 2. 日志
		ic.UnaryErrorInterceptor(),      // 3. 错误转换
		ic.UnaryValidationInterceptor(), // 4. 参数验证
		ic.UnaryRateLimitInterceptor(),  // 5. 限流
	)
}
