package context

import "context"

type ContextKey string

var (
	RequestIDKey     = ContextKey("X-Request-Id")
	MethodKey        = ContextKey("X-Method")
	RouteKey         = ContextKey("X-Route")
	RemoteIPKey      = ContextKey("X-Remote-Ip")
	SourceKey        = ContextKey("X-Source")
	DocumentIDKey    = ContextKey("X-Document-Id")
	AnalysisBatchKey = ContextKey("X-Analysis-Batch")
)

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

// SetSource records which transport delivered the document (http, kafka, cli).
func SetSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

func GetSource(ctx context.Context) string {
	return getString(ctx, SourceKey)
}

func SetDocumentID(ctx context.Context, documentID int64) context.Context {
	return context.WithValue(ctx, DocumentIDKey, documentID)
}

// GetDocumentID returns the generated id of the document being saved, or 0.
func GetDocumentID(ctx context.Context) int64 {
	value, ok := ctx.Value(DocumentIDKey).(int64)
	if !ok {
		return 0
	}
	return value
}

func SetAnalysisBatch(ctx context.Context, batch string) context.Context {
	return context.WithValue(ctx, AnalysisBatchKey, batch)
}

func GetAnalysisBatch(ctx context.Context) string {
	return getString(ctx, AnalysisBatchKey)
}

// MessagePosition locates the Kafka message a document arrived in.
type MessagePosition struct {
	Topic     string
	Partition int
	Offset    int64
}

var MessagePositionKey = ContextKey("X-Message-Position")

func SetMessagePosition(ctx context.Context, topic string, partition int, offset int64) context.Context {
	return context.WithValue(ctx, MessagePositionKey, MessagePosition{Topic: topic, Partition: partition, Offset: offset})
}

func GetMessagePosition(ctx context.Context) (MessagePosition, bool) {
	pos, ok := ctx.Value(MessagePositionKey).(MessagePosition)
	return pos, ok
}
