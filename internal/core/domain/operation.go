package domain

// OperationKind is the type of write issued to a store.
type OperationKind string

const (
	OpCreate  OperationKind = "create"
	OpUpdate  OperationKind = "update"
	OpArchive OperationKind = "archive"
	OpDelete  OperationKind = "delete"
)

// Operation is one write request for a store.
type Operation struct {
	Kind   OperationKind
	Entity EntityType

	// ID is the store-native identifier; empty for creates.
	ID string

	// Patch holds native fields to write.
	Patch map[string]any

	// Ref correlates the outcome back to the decision that produced it.
	Ref string
}

// OperationOutcome is the result of one operation after retries.
type OperationOutcome struct {
	Op Operation

	// Record is the store's view after the write, when returned.
	Record *NativeRecord

	// Err is nil on success.
	Err error

	// Attempts counts calls made, including retries.
	Attempts int
}

// Succeeded reports whether the operation committed remotely.
func (o OperationOutcome) Succeeded() bool {
	return o.Err == nil
}
