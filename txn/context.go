package txn

import "context"

type txnKey struct{}

func withTransaction(ctx context.Context, t *Transaction) context.Context {
	return context.WithValue(ctx, txnKey{}, t)
}

// FromContext returns the transaction carried by ctx, or nil
func FromContext(ctx context.Context) *Transaction {
	t, _ := ctx.Value(txnKey{}).(*Transaction)
	return t
}

// Active reports whether ctx carries a transaction that can still take participants
func Active(ctx context.Context) bool {
	t := FromContext(ctx)
	return t != nil && t.State() == StateActive
}
