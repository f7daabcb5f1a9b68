package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signature header keys accepted in k=v form.
var signatureKeys = map[string]bool{
	"sha256":    true,
	"signature": true,
	"sig":       true,
	"v1":        true,
	"s":         true,
}

// VerifySignature checks the provider's HMAC-SHA256 over the raw,
// unparsed request body. The header may be "sha256=<hex>", a
// comma-delimited list of key=value pairs, or bare hex. Missing or
// malformed headers fail closed.
func VerifySignature(secret []byte, rawBody []byte, header string) bool {
	sig, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)
	return hmac.Equal(provided, mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	if !strings.Contains(header, "=") {
		return header, isHex(header)
	}

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		if signatureKeys[strings.ToLower(strings.TrimSpace(key))] {
			value = strings.TrimSpace(value)
			if isHex(value) {
				return value, true
			}
		}
	}
	return "", false
}

func isHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
