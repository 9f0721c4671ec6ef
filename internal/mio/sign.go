package mio

import "github.com/sovereign-voice/commandplane/internal/crypto"

// Sign produces the raw Ed25519 signature over m's canonical JSON payload,
// matching mio/signer.py's sign_mio. The caller attaches the resulting
// bytes to Proof.Signature (base64 or hex, at the transport layer's
// discretion) and to VerifyInput.Signature for later verification.
func Sign(signer *crypto.Signer, m MasterIntentObject) ([]byte, error) {
	payload, err := m.CanonicalJSON()
	if err != nil {
		return nil, err
	}
	return signer.Sign(payload), nil
}
