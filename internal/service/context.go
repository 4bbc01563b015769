package service

import "context"

type contextKey struct{}

// Operator is the admin acting through the HTTP surface. Task mutations log
// it; background workers run without one.
type Operator struct {
	UserID string
	Name   string
	Role   string
}

func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, contextKey{}, op)
}

func OperatorFrom(ctx context.Context) *Operator {
	op, _ := ctx.Value(contextKey{}).(*Operator)
	return op
}

// GetOperator returns the operator name, or "system" outside a request.
func GetOperator(ctx context.Context) string {
	if op := OperatorFrom(ctx); op != nil {
		return op.Name
	}
	return "system"
}
