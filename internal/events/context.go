package events

import (
	"context"

	"github.com/google/uuid"
)

type operationKey struct{}

// Operation identifies one client call. Its fields are attached to every
// log line written on its behalf.
type Operation struct {
	ID       string
	Name     string
	Instance string
}

// StartOperation tags ctx with a new operation. A context already inside
// an operation is returned unchanged, so nested calls share the outer id.
func StartOperation(ctx context.Context, instance, name string) context.Context {
	if _, ok := OperationFrom(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, operationKey{}, Operation{
		ID:       uuid.NewString(),
		Name:     name,
		Instance: instance,
	})
}

// OperationFrom returns the operation ctx belongs to.
func OperationFrom(ctx context.Context) (Operation, bool) {
	op, ok := ctx.Value(operationKey{}).(Operation)
	return op, ok
}

// Tag returns logger with the fields of the operation in ctx, or logger
// itself outside an operation.
func Tag(ctx context.Context, logger *Logger) *Logger {
	op, ok := OperationFrom(ctx)
	if !ok {
		return logger
	}
	return logger.WithFields(map[string]interface{}{
		"op":       op.Name,
		"op_id":    op.ID,
		"instance": op.Instance,
	})
}
