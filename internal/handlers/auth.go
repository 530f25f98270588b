package handlers

import (
	"errors"
	"net/http"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/handlers/render"
	"github.com/lavaops/stationd/internal/logger"
)

func handleLogin(sessions sessionService, logger logger.Logger) http.Handler {
	type LoginRequest struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	type LoginSuccessResponse struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[LoginRequest](w, r)
		if err != nil {
			return
		}

		err = sessions.Login(r.Context(), data.Login, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidCredentials):
				render.ServiceError(w, "Invalid login or password", http.StatusUnauthorized)
			default:
				logger.Error("Login failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, LoginSuccessResponse{Message: "Logged in successfully"})
	})
}

func handleLogout(sessions sessionService, logger logger.Logger) http.Handler {
	type LogoutSuccessResponse struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Logout(r.Context()); err != nil {
			logger.Error("Logout failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, LogoutSuccessResponse{Message: "Logged out"})
	})
}

func handleSessionState(sessions sessionService) http.Handler {
	type SessionStateResponse struct {
		LoggedIn bool `json:"logged_in"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, SessionStateResponse{LoggedIn: sessions.LoggedIn(r.Context())})
	})
}
