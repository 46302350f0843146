// Package context carries per-request values from the HTTP layer down to
// repositories and event publishers.
package context

import (
	"context"
	"strconv"
)

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	ActorIDKey   = ContextKey("X-Actor-Id")
)

func value[T any](ctx context.Context, key ContextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	id, _ := value[string](ctx, RequestIDKey)
	return id
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	route, _ := value[string](ctx, RouteKey)
	return route
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	ip, _ := value[string](ctx, RemoteIPKey)
	return ip
}

// SetActorID stores the acting user. Values that are not positive integers
// are ignored.
func SetActorID(ctx context.Context, raw string) context.Context {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return ctx
	}
	return context.WithValue(ctx, ActorIDKey, id)
}

// GetActorID returns nil when the request carried no actor.
func GetActorID(ctx context.Context) *int64 {
	id, ok := value[int64](ctx, ActorIDKey)
	if !ok {
		return nil
	}
	return &id
}
