// Package identity carries the authenticated caller through request
// context. Session handling lives outside this service; handlers only
// see an opaque actor type/id pair plus request correlation fields.
package identity

import (
	"context"
	"strings"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeDonor  ActorType = "donor"
	ActorTypeAdmin  ActorType = "admin"
)

type Actor struct {
	Type ActorType
	ID   string
}

func (a Actor) IsAdmin() bool  { return a.Type == ActorTypeAdmin }
func (a Actor) IsSystem() bool { return a.Type == ActorTypeSystem }

type actorKey struct{}
type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

// WithActor stores the caller identity in the context.
func WithActor(ctx context.Context, actorType ActorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, Actor{Type: actorType, ID: strings.TrimSpace(actorID)})
}

// ActorFromContext returns the caller identity, defaulting to system.
func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return Actor{Type: ActorTypeSystem}
	}
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok && actor.Type != "" {
		return actor
	}
	return Actor{Type: ActorTypeSystem}
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey{}, strings.TrimSpace(ip))
}

func IPAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(ipAddressKey{}).(string)
	return value
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, strings.TrimSpace(ua))
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userAgentKey{}).(string)
	return value
}

// ParseActorType normalizes a role claim from the auth layer.
func ParseActorType(raw string) ActorType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin":
		return ActorTypeAdmin
	case "donor", "user":
		return ActorTypeDonor
	default:
		return ActorTypeSystem
	}
}
