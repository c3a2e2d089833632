package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/moviestream/internal/backend"
	"github.com/hitoshi/moviestream/internal/middleware"
	"github.com/hitoshi/moviestream/internal/model"
)

// AccountAPI はサインイン中ユーザーの保護APIのインターフェース。
// backend.Clientが実装する。
type AccountAPI interface {
	Profile(ctx context.Context, bearer string) (json.RawMessage, error)
	Favorites(ctx context.Context, bearer string) (json.RawMessage, error)
	RemoveFavorite(ctx context.Context, bearer string, movieID int) error
	WatchHistory(ctx context.Context, bearer string) (json.RawMessage, error)
	AddWatchHistory(ctx context.Context, bearer string, movieID int) error
}

// AccountHandler はバックエンドの保護APIをベアラートークン付きで中継するハンドラー。
// RequireAuthorizationの内側に配置する。
type AccountHandler struct {
	api    AccountAPI
	logger *slog.Logger
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(api AccountAPI, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{api: api, logger: logger}
}

type addWatchHistoryRequest struct {
	MovieID int `json:"movieId"`
}

// Profile はプロフィールを返す。
// GET /api/profile
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.api.Profile)
}

// Favorites はお気に入り一覧を返す。
// GET /api/favorites
func (h *AccountHandler) Favorites(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.api.Favorites)
}

// WatchHistory は視聴履歴を返す。
// GET /api/watch-history
func (h *AccountHandler) WatchHistory(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.api.WatchHistory)
}

// RemoveFavorite はお気に入りから作品を削除する。
// DELETE /api/favorites/{movieID}
func (h *AccountHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	movieID, err := strconv.Atoi(chi.URLParam(r, "movieID"))
	if err != nil || movieID <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("作品IDが正しくありません"))
		return
	}

	if err := h.api.RemoveFavorite(r.Context(), bearerFrom(r), movieID); err != nil {
		h.writeBackendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddWatchHistory は視聴履歴に作品を追加する。
// POST /api/watch-history
func (h *AccountHandler) AddWatchHistory(w http.ResponseWriter, r *http.Request) {
	var req addWatchHistoryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil || req.MovieID <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("作品IDが正しくありません"))
		return
	}

	if err := h.api.AddWatchHistory(r.Context(), bearerFrom(r), req.MovieID); err != nil {
		h.writeBackendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) relay(w http.ResponseWriter, r *http.Request, call func(context.Context, string) (json.RawMessage, error)) {
	body, err := call(r.Context(), bearerFrom(r))
	if err != nil {
		h.writeBackendError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// writeBackendError はバックエンドのエラーを統一エラーフォーマットに変換する。
// 401はサインインし直しを促し、その他の4xxはステータスをそのまま返す。
func (h *AccountHandler) writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, backend.ErrUnauthorized) {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var rej *backend.RejectionError
	if errors.As(err, &rej) && rej.Status >= 400 && rej.Status < 500 {
		middleware.WriteErrorResponse(w, rej.Status, model.NewInvalidRequestError(rej.Message))
		return
	}

	h.logger.Error("backend request failed",
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendUnavailableError())
}

func bearerFrom(r *http.Request) string {
	return middleware.ViewFromContext(r.Context()).Token
}
