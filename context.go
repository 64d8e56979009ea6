package authcore

import "context"

type contextKey string

const clientIPKey contextKey = "authcore.client_ip"

// WithClientIP attaches the caller's IP to the context. The engine only uses
// it for audit events and the per-IP login throttle; it never influences
// token validity.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP extracts the IP set by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
