package backend

import (
	"fmt"
	"strings"
)

// DefaultBaseURL はバックエンドREST APIのデフォルトのベースURL。
const DefaultBaseURL = "https://alldramaz.com/api"

// Endpoints はバックエンドREST APIのエンドポイント一覧。
type Endpoints struct {
	Login        string
	OAuthCheck   string
	Signup       string
	Profile      string
	Favorites    string
	WatchHistory string
	baseURL      string
}

// NewEndpoints はベースURLからエンドポイント一覧を組み立てる。
// 末尾のスラッシュは取り除く。
func NewEndpoints(baseURL string) Endpoints {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base := strings.TrimRight(baseURL, "/")
	return Endpoints{
		Login:        base + "/auth/login",
		OAuthCheck:   base + "/auth/oauth-check",
		Signup:       base + "/auth/signup",
		Profile:      base + "/customers/profile",
		Favorites:    base + "/user-favorites",
		WatchHistory: base + "/user-watch-histories",
		baseURL:      base,
	}
}

// RemoveFavorite は指定作品のお気に入り削除エンドポイントを返す。
func (e Endpoints) RemoveFavorite(movieID int) string {
	return fmt.Sprintf("%s/user-favorites/movie/%d", e.baseURL, movieID)
}
