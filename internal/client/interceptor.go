package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

// RotationMetadataKey is the gRPC response header carrying a rotated access token
const RotationMetadataKey = "x-new-access-token"

// AuthInterceptor applies the client's token rules to gRPC calls: bearer
// metadata, rotation through response headers, and one coordinated refresh
// plus one retry on codes.Unauthenticated.
type AuthInterceptor struct {
	tokens    TokenStore
	refresher *RefreshCoordinator
	log       *slog.Logger
}

// NewAuthInterceptor creates a new auth interceptor
func NewAuthInterceptor(tokens TokenStore, refresher *RefreshCoordinator, log *slog.Logger) *AuthInterceptor {
	return &AuthInterceptor{
		tokens:    tokens,
		refresher: refresher,
		log:       logger.Component(log, "grpc_auth_interceptor"),
	}
}

// GRPCInterceptor returns an interceptor sharing this client's store and refresh coordinator
func (c *Client) GRPCInterceptor() *AuthInterceptor {
	return NewAuthInterceptor(c.tokens, c.refresher, c.log)
}

// Unary returns a gRPC unary client interceptor with auto-refresh
func (a *AuthInterceptor) Unary() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		epoch := a.refresher.sessionEpoch()
		token := a.tokens.GetToken()
		err := a.invoke(ctx, epoch, token, method, req, reply, cc, invoker, opts)

		if status.Code(err) != codes.Unauthenticated || token == "" {
			return err
		}

		a.log.Info("token expired, attempting refresh", slog.String("method", method))
		newToken, refreshErr := a.refresher.refreshAfter(ctx, token)
		if refreshErr != nil {
			a.log.Error("token refresh failed",
				slog.String("method", method),
				slog.String("error", refreshErr.Error()))
			return err
		}

		a.log.Debug("retrying request with refreshed token",
			slog.String("method", method),
			slog.String("token_prefix", logger.TokenPreview(newToken)))
		return a.invoke(ctx, a.refresher.sessionEpoch(), newToken, method, req, reply, cc, invoker, opts)
	}
}

// Stream returns a gRPC stream client interceptor. Streams only carry the
// current bearer token; refresh and retry apply to unary calls.
func (a *AuthInterceptor) Stream() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		if token := a.tokens.GetToken(); token != "" {
			ctx = withBearer(ctx, token)
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

func (a *AuthInterceptor) invoke(
	ctx context.Context,
	epoch uint64,
	token, method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts []grpc.CallOption,
) error {
	if token != "" {
		ctx = withBearer(ctx, token)
	}

	var header metadata.MD
	callOpts := append(append([]grpc.CallOption{}, opts...), grpc.Header(&header))
	err := invoker(ctx, method, req, reply, cc, callOpts...)

	if rotated := header.Get(RotationMetadataKey); len(rotated) > 0 && rotated[0] != "" {
		if a.refresher.writeIfCurrent(epoch, func() { a.tokens.SetToken(rotated[0]) }) {
			metrics.SilentRotations.Inc()
			a.log.Debug("access token rotated by server", slog.String("method", method))
		}
	}
	return err
}

// withBearer replaces any authorization metadata already on ctx
func withBearer(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set("authorization", "Bearer "+token)
	return metadata.NewOutgoingContext(ctx, md)
}

// NewGRPCConn dials target with the interceptor installed.
// TLS is used unless the target is local.
func NewGRPCConn(target, serverName string, interceptor *AuthInterceptor, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if isLocalhost(target) {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		if serverName == "" {
			serverName = target
			if idx := strings.LastIndex(target, ":"); idx != -1 {
				serverName = target[:idx]
			}
		}
		creds := credentials.NewTLS(&tls.Config{
			ServerName: serverName,
			MinVersion: tls.VersionTLS12,
		})
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
	}

	if interceptor != nil {
		dialOpts = append(dialOpts,
			grpc.WithUnaryInterceptor(interceptor.Unary()),
			grpc.WithStreamInterceptor(interceptor.Stream()),
		)
	}

	conn, err := grpc.NewClient(target, append(dialOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server: %w", err)
	}
	return conn, nil
}

// isLocalhost checks if an address is localhost/127.0.0.1 or a cluster-internal address
func isLocalhost(address string) bool {
	lower := strings.ToLower(address)
	return strings.Contains(lower, "localhost") ||
		strings.Contains(lower, "127.0.0.1") ||
		strings.HasPrefix(lower, "::1") ||
		strings.HasPrefix(lower, "[::1]") ||
		strings.HasPrefix(lower, "passthrough:") ||
		// Kubernetes service names (no dots = internal)
		!strings.Contains(address, ".")
}
