package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/codeframe-backend/internal/pkg/ctxutil"
)

const (
	HeaderUserID    = "X-User-ID"
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

/*
AttachRequestContext stores a RequestData on the request context:
  - the request id from X-Request-Id, or a fresh one,
  - the trace id of the active span, falling back to X-Trace-Id,
  - the caller, "user:<X-User-ID>" when the header is set and "ip:<client ip>" otherwise.

Rate limits are keyed on the caller. Both ids are echoed back.
*/
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &ctxutil.RequestData{
			RequestID: strings.TrimSpace(c.GetHeader(headerRequestID)),
			Caller:    callerOf(c),
		}
		if rd.RequestID == "" {
			rd.RequestID = uuid.NewString()
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			rd.TraceID = sc.TraceID().String()
		} else if h := strings.TrimSpace(c.GetHeader(headerTraceID)); h != "" {
			rd.TraceID = h
		} else {
			rd.TraceID = rd.RequestID
		}

		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Writer.Header().Set(headerTraceID, rd.TraceID)
		c.Writer.Header().Set(headerRequestID, rd.RequestID)
		c.Next()
	}
}

func callerOf(c *gin.Context) string {
	if u := strings.TrimSpace(c.GetHeader(HeaderUserID)); u != "" {
		return "user:" + u
	}
	return "ip:" + c.ClientIP()
}

// Caller is the rate-limit identity of the request.
func Caller(c *gin.Context) string {
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil && rd.Caller != "" {
		return rd.Caller
	}
	return callerOf(c)
}
