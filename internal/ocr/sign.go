package ocr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	signAlgorithm   = "TC3-HMAC-SHA256"
	signedHeaders   = "content-type;host"
	jsonContentType = "application/json; charset=utf-8"
)

// authorization builds a TC3-HMAC-SHA256 Authorization header for a POST of
// payload to host at timestamp ts.
func authorization(secretID, secretKey, service, host string, payload []byte, ts time.Time) string {
	date := ts.UTC().Format("2006-01-02")

	canonicalRequest := fmt.Sprintf("POST\n/\n\ncontent-type:%s\nhost:%s\n\n%s\n%s",
		jsonContentType, host, signedHeaders, sha256Hex(payload))

	scope := date + "/" + service + "/tc3_request"
	stringToSign := fmt.Sprintf("%s\n%d\n%s\n%s",
		signAlgorithm, ts.Unix(), scope, sha256Hex([]byte(canonicalRequest)))

	secretDate := hmacSHA256([]byte("TC3"+secretKey), date)
	secretService := hmacSHA256(secretDate, service)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, secretID, scope, signedHeaders, signature)
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
