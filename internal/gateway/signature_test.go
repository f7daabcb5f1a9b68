package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"id":"evt_1","status":"paid"}`)
	valid := sign(secret, body)

	tests := []struct {
		name   string
		body   []byte
		header string
		want   bool
	}{
		{"bare hex", body, valid, true},
		{"sha256 prefix", body, "sha256=" + valid, true},
		{"key value list", body, "t=1693363200,v1=" + valid, true},
		{"key value list with spaces", body, "t=1693363200, v1=" + valid, true},
		{"signature key", body, "signature=" + valid, true},
		{"tampered body", []byte(`{"id":"evt_1","status":"paid","amount":1}`), valid, false},
		{"missing header", body, "", false},
		{"whitespace header", body, "   ", false},
		{"not hex", body, "sha256=not-hex-at-all", false},
		{"odd length hex", body, valid[:len(valid)-1], false},
		{"unknown keys only", body, "t=1693363200,x=" + valid, false},
		{"truncated signature", body, "sha256=" + valid[:32], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(secret, tt.body, tt.header); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	header := "sha256=" + sign([]byte("other_secret"), body)

	if VerifySignature([]byte("whsec_test"), body, header) {
		t.Error("signature computed with a different secret must not verify")
	}
}
