package types

// Namespace selects the encrypted or unencrypted half of a key-value store.
type Namespace uint8

const (
	NamespaceEncrypted Namespace = iota
	NamespaceUnencrypted
)

// BatchOp is one write in a Batch. A nil Value deletes the key.
type BatchOp struct {
	Namespace Namespace
	Key       string
	Value     []byte
}

// Batch groups writes that must become visible together or not at all.
type Batch struct {
	Ops []BatchOp
}

// PutEncrypted queues a write to the encrypted namespace.
func (b *Batch) PutEncrypted(key string, value []byte) {
	b.Ops = append(b.Ops, BatchOp{Namespace: NamespaceEncrypted, Key: key, Value: value})
}

// PutUnencrypted queues a write to the unencrypted namespace.
func (b *Batch) PutUnencrypted(key string, value []byte) {
	b.Ops = append(b.Ops, BatchOp{Namespace: NamespaceUnencrypted, Key: key, Value: value})
}

// Remove queues a deletion from ns.
func (b *Batch) Remove(ns Namespace, key string) {
	b.Ops = append(b.Ops, BatchOp{Namespace: ns, Key: key})
}
