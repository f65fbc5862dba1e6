package security

import (
	"crypto/rand"
	"fmt"
)

const (
	// DefaultSecretLength は購読シークレットのデフォルト長。
	DefaultSecretLength = 180
	// MaxSecretLength はハブが受け付けるシークレットの上限長。
	MaxSecretLength = 200
)

// secretAlphabet はシークレットに使用する文字集合。
// URLエンコード不要な英数字のみを使用する。
const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSecret は長さnの購読シークレットを暗号論的乱数から生成する。
// nが0以下の場合はDefaultSecretLength、上限を超える場合はMaxSecretLengthに丸める。
// 生成されたシークレットはアウトバウンドのハブリクエスト以外で送信してはならず、
// 呼び出し側は平文をログに出力してはならない。
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		n = DefaultSecretLength
	}
	if n > MaxSecretLength {
		n = MaxSecretLength
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("乱数の生成に失敗しました: %w", err)
	}

	for i, b := range buf {
		buf[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}

	return string(buf), nil
}
