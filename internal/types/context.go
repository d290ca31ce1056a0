package types

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobRunIDKey  contextKey = "job_run_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithJobRunID stores the current job run ID in the context so that
// nested services can tag their log lines with it.
func WithJobRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobRunIDKey, id)
}

// GetJobRunID retrieves the job run ID from the context.
func GetJobRunID(ctx context.Context) string {
	id, _ := ctx.Value(jobRunIDKey).(string)
	return id
}
