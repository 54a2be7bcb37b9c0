package server

import (
	"context"
)

type contextKey string

const subjectContextKey = contextKey("subject")

func contextWithSubject(parentCtx context.Context, subject string) context.Context {
	return context.WithValue(parentCtx, subjectContextKey, subject)
}

// contextSubject returns the authenticated user for the current request,
// or an empty string for requests that didn't require authentication.
func contextSubject(ctx context.Context) string {
	subject, _ := ctx.Value(subjectContextKey).(string)
	return subject
}
