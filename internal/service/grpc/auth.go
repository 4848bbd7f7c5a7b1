package grpcsvc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type actorKey struct{}

// ActorFromContext возвращает пользователя, положенного AuthInterceptor.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

// AuthInterceptor проверяет JWT из metadata authorization для методов StorefrontService.
// Остальные сервисы (health, reflection) пропускаются без проверки.
func AuthInterceptor(tokens *auth.TokenManager) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		if tokens == nil {
			return nil, status.Error(codes.Unauthenticated, auth.ErrInvalidToken.Error())
		}

		raw, err := auth.BearerToken(firstMetadata(ctx, "authorization"))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		actor, err := tokens.Parse(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(context.WithValue(ctx, actorKey{}, actor), req)
	}
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
