package security

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// maxDisplayNameRunes は表示名として保持する最大文字数。
const maxDisplayNameRunes = 100

// DisplayNameSanitizer はIdPやバックエンドから受け取った表示名を平文に正規化する。
// 表示名はセッションに保存され、Cookie経由でフロントエンドに渡るため、
// マークアップや制御文字を含めない。
type DisplayNameSanitizer struct {
	policy *bluemonday.Policy
}

// NewDisplayNameSanitizer はDisplayNameSanitizerを生成する。
// bluemondayのStrictPolicyで全てのタグを除去する。
func NewDisplayNameSanitizer() *DisplayNameSanitizer {
	return &DisplayNameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeDisplayName はタグを除去し、エンティティを復元して前後の空白を取り除く。
// 結果が空になった場合は空文字列を返す（呼び出し側で欠落として扱う）。
func (s *DisplayNameSanitizer) SanitizeDisplayName(name string) string {
	stripped := s.policy.Sanitize(name)
	// StrictPolicyは&などをエスケープするため、平文に戻す
	plain := html.UnescapeString(stripped)

	plain = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, plain)
	plain = strings.Join(strings.Fields(plain), " ")

	if runes := []rune(plain); len(runes) > maxDisplayNameRunes {
		plain = string(runes[:maxDisplayNameRunes])
	}
	return plain
}
