package types

// ServerKeys is the on-disk layout of the server signing keys file,
// generated by the keys command.
type ServerKeys struct {
	Type       string `json:"type"`
	PrivateKey string `json:"privateKey"` // base64, 64 bytes (seed + public key)
	Created    int64  `json:"created"`
}
