package runtime

import "context"

type ctxKeyGeneration struct{}

// WithGeneration tags ctx with the instance generation guest calls are made for.
func WithGeneration(ctx context.Context, gen uint64) context.Context {
	return context.WithValue(ctx, ctxKeyGeneration{}, gen)
}

// GetGeneration returns the generation ctx was tagged with.
func GetGeneration(ctx context.Context) (uint64, bool) {
	if v := ctx.Value(ctxKeyGeneration{}); v != nil {
		return v.(uint64), true
	}
	return 0, false
}
