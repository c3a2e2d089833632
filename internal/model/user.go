// Package model はドメインモデルを定義する。
package model

// User はサインイン中のユーザーの表示用プロフィールを表す。
// 識別情報のみを保持し、資格情報は含まない。
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PasswordIdentity はメールアドレスとパスワードによる資格情報。
// 認証リクエストの間だけ存在し、保存もログ出力もしない。
type PasswordIdentity struct {
	Email    string
	Password string
}

// FederatedIdentity は外部IdPが検証済みのプロフィールを表す。
// 受け取った時点で信頼済みとして扱う。IdPの生の資格情報は含まない。
type FederatedIdentity struct {
	Email       string
	DisplayName string
	Provider    string // "google" 等
}

// Provider 名
const (
	ProviderCredentials = "credentials"
	ProviderGoogle      = "google"
)
