package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix はX-Hub-Signatureヘッダーの署名方式プレフィックス。
const SignaturePrefix = "sha256="

// Sign は購読シークレットで生のリクエストボディのHMAC-SHA256署名を計算し、
// "sha256=<hex>" 形式で返す。
// 署名は再シリアライズしたJSONではなく生のバイト列に対して計算すること。
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature はX-Hub-Signatureヘッダーの値と生ボディの署名を照合する。
// 比較はhmac.Equalによる定数時間比較で行い、一致した場合のみtrueを返す。
// ヘッダーが "sha256=" 形式でない場合はfalseを返す。
func VerifySignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, SignaturePrefix) {
		return false
	}

	got, err := hex.DecodeString(strings.TrimPrefix(header, SignaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)

	return hmac.Equal(got, want)
}
