package signing

import "errors"

// ErrKeyLoad is returned when the configured private_key_file is
// missing or unreadable while signing is enabled (spec §7: KeyLoad).
var ErrKeyLoad = errors.New("signing: failed to load private key")

// ErrSignerError wraps a signer-primitive rejection (spec §7: SignerError).
var ErrSignerError = errors.New("signing: signer rejected input")
