package scan

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives the content-addressed cache key for a scan.
// It hashes the canonical encoding of the transaction payload together
// with the wallet and scan type, so identical inputs always map to the
// same fingerprint and different wallets or scan profiles never share
// cached verdicts.
func Fingerprint(raw RawInput, wallet string, scanType ScanType) string {
	h := sha256.New()
	h.Write(raw.CanonicalBytes())
	h.Write([]byte{0})
	h.Write([]byte(wallet))
	h.Write([]byte{0})
	h.Write([]byte(scanType))
	return hex.EncodeToString(h.Sum(nil))
}
