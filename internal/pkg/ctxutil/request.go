package ctxutil

import "context"

type requestDataKey struct{}

// RequestData identifies one API request across logs and spans.
type RequestData struct {
	TraceID   string
	RequestID string
	Caller    string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

// GetRequestData returns nil outside an API request, e.g. in a worker.
func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(requestDataKey{}).(*RequestData)
	return rd
}
