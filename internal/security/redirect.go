package security

import (
	"net/url"
	"strings"
)

// defaultRedirectPath はコールバックURLが不正な場合の遷移先。
const defaultRedirectPath = "/"

// RedirectValidator はサインイン後の遷移先をBASE_URLと同一オリジンに制限する。
type RedirectValidator struct {
	base *url.URL
}

// NewRedirectValidator はRedirectValidatorを生成する。
// baseURLが解析できない場合は相対パスのみを許可する。
func NewRedirectValidator(baseURL string) *RedirectValidator {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		base = nil
	}
	return &RedirectValidator{base: base}
}

// Resolve はcallbackURLを検証し、安全な遷移先を返す。
// 同一オリジンの絶対URLとパスのみの相対URLを許可し、それ以外は"/"を返す。
func (v *RedirectValidator) Resolve(callbackURL string) string {
	if callbackURL == "" {
		return defaultRedirectPath
	}
	// バックスラッシュはブラウザによって"/"として解釈されるため拒否する
	if strings.ContainsAny(callbackURL, "\\\r\n\t") {
		return defaultRedirectPath
	}

	u, err := url.Parse(callbackURL)
	if err != nil {
		return defaultRedirectPath
	}

	// "/path" 形式の相対URL。"//evil.com" はプロトコル相対URLなので拒否
	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(callbackURL, "/") || strings.HasPrefix(callbackURL, "//") {
			return defaultRedirectPath
		}
		return u.RequestURI() + fragment(u)
	}

	if v.base == nil {
		return defaultRedirectPath
	}
	if !strings.EqualFold(u.Scheme, v.base.Scheme) || !strings.EqualFold(u.Host, v.base.Host) || u.User != nil {
		return defaultRedirectPath
	}
	return u.String()
}

func fragment(u *url.URL) string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.EscapedFragment()
}
