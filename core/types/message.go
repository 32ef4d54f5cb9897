package types

// EncryptedMessage is an opaque note attached to a purchase or bid. Its
// fields are carried verbatim and never interpreted.
type EncryptedMessage struct {
	EncryptedData      []byte
	EphemeralPublicKey []byte
	IV                 []byte
	VerificationHash   []byte
}

// Empty reports whether every field is empty.
func (m EncryptedMessage) Empty() bool {
	return len(m.EncryptedData) == 0 && len(m.EphemeralPublicKey) == 0 && len(m.IV) == 0 && len(m.VerificationHash) == 0
}
