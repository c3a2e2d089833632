package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/moviestream/internal/backend"
	"github.com/hitoshi/moviestream/internal/middleware"
	"github.com/hitoshi/moviestream/internal/model"
)

type mockAccountAPI struct {
	profileFn         func(ctx context.Context, bearer string) (json.RawMessage, error)
	favoritesFn       func(ctx context.Context, bearer string) (json.RawMessage, error)
	removeFavoriteFn  func(ctx context.Context, bearer string, movieID int) error
	watchHistoryFn    func(ctx context.Context, bearer string) (json.RawMessage, error)
	addWatchHistoryFn func(ctx context.Context, bearer string, movieID int) error
}

func (m *mockAccountAPI) Profile(ctx context.Context, bearer string) (json.RawMessage, error) {
	return m.profileFn(ctx, bearer)
}

func (m *mockAccountAPI) Favorites(ctx context.Context, bearer string) (json.RawMessage, error) {
	return m.favoritesFn(ctx, bearer)
}

func (m *mockAccountAPI) RemoveFavorite(ctx context.Context, bearer string, movieID int) error {
	return m.removeFavoriteFn(ctx, bearer, movieID)
}

func (m *mockAccountAPI) WatchHistory(ctx context.Context, bearer string) (json.RawMessage, error) {
	return m.watchHistoryFn(ctx, bearer)
}

func (m *mockAccountAPI) AddWatchHistory(ctx context.Context, bearer string, movieID int) error {
	return m.addWatchHistoryFn(ctx, bearer, movieID)
}

func withView(req *http.Request, token string) *http.Request {
	return req.WithContext(middleware.ContextWithView(req.Context(), model.AuthorizationView{
		User:  &model.User{Name: "A", Email: "a@b.com"},
		Token: token,
		State: model.AuthStateAuthenticated,
	}))
}

func TestAccountHandler_RelaysWithBearer(t *testing.T) {
	var gotBearer []string
	api := &mockAccountAPI{
		profileFn: func(ctx context.Context, bearer string) (json.RawMessage, error) {
			gotBearer = append(gotBearer, bearer)
			return json.RawMessage(`{"name":"A"}`), nil
		},
		favoritesFn: func(ctx context.Context, bearer string) (json.RawMessage, error) {
			gotBearer = append(gotBearer, bearer)
			return json.RawMessage(`[{"movieId":1}]`), nil
		},
		watchHistoryFn: func(ctx context.Context, bearer string) (json.RawMessage, error) {
			gotBearer = append(gotBearer, bearer)
			return json.RawMessage(`[]`), nil
		},
	}
	h := NewAccountHandler(api, discardLogger())

	tests := []struct {
		path    string
		handler http.HandlerFunc
		want    string
	}{
		{"/api/profile", h.Profile, `{"name":"A"}`},
		{"/api/favorites", h.Favorites, `[{"movieId":1}]`},
		{"/api/watch-history", h.WatchHistory, `[]`},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		tt.handler(w, withView(httptest.NewRequest(http.MethodGet, tt.path, nil), "tok123"))

		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", tt.path, w.Code, http.StatusOK)
		}
		if got := w.Body.String(); got != tt.want {
			t.Errorf("%s: body = %q, want %q", tt.path, got, tt.want)
		}
	}

	for _, b := range gotBearer {
		if b != "tok123" {
			t.Errorf("bearer = %q, want tok123", b)
		}
	}
}

func TestAccountHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unauthorized", backend.ErrUnauthorized, http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"not found", &backend.RejectionError{Status: 404, Message: "Not Found"}, http.StatusNotFound, model.ErrCodeInvalidRequest},
		{"server error", &backend.RejectionError{Status: 500, Message: "boom"}, http.StatusBadGateway, model.ErrCodeBackendUnavailable},
		{"transport", errors.New("connection refused"), http.StatusBadGateway, model.ErrCodeBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAccountAPI{
				profileFn: func(ctx context.Context, bearer string) (json.RawMessage, error) {
					return nil, tt.err
				},
			}
			h := NewAccountHandler(api, discardLogger())

			w := httptest.NewRecorder()
			h.Profile(w, withView(httptest.NewRequest(http.MethodGet, "/api/profile", nil), "tok123"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeErrorBody(t, w.Body); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestAccountHandler_RemoveFavorite(t *testing.T) {
	var gotID int
	api := &mockAccountAPI{
		removeFavoriteFn: func(ctx context.Context, bearer string, movieID int) error {
			gotID = movieID
			return nil
		},
	}
	h := NewAccountHandler(api, discardLogger())

	r := chi.NewRouter()
	r.Delete("/api/favorites/{movieID}", h.RemoveFavorite)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, withView(httptest.NewRequest(http.MethodDelete, "/api/favorites/42", nil), "tok123"))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotID != 42 {
		t.Errorf("movieID = %d, want 42", gotID)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, withView(httptest.NewRequest(http.MethodDelete, "/api/favorites/abc", nil), "tok123"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAccountHandler_AddWatchHistory(t *testing.T) {
	var gotID int
	api := &mockAccountAPI{
		addWatchHistoryFn: func(ctx context.Context, bearer string, movieID int) error {
			gotID = movieID
			return nil
		},
	}
	h := NewAccountHandler(api, discardLogger())

	w := httptest.NewRecorder()
	h.AddWatchHistory(w, withView(httptest.NewRequest(http.MethodPost, "/api/watch-history", strings.NewReader(`{"movieId":7}`)), "tok123"))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotID != 7 {
		t.Errorf("movieID = %d, want 7", gotID)
	}

	w = httptest.NewRecorder()
	h.AddWatchHistory(w, withView(httptest.NewRequest(http.MethodPost, "/api/watch-history", strings.NewReader(`{}`)), "tok123"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing movieId: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
