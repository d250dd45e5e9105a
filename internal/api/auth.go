package api

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"schoolchat/internal/models"
)

// GenerateToken signs an HS256 token carrying the user id.
func GenerateToken(secret string, userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns the user id it carries.
func ParseToken(secret, tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("Invalid token")
	}

	exp, ok := claims["exp"].(float64)
	if !ok || int64(exp) < time.Now().Unix() {
		return "", errors.New("Token expired")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("Invalid user ID in token")
	}
	return userID, nil
}

func (h *Handlers) userFromToken(ctx context.Context, token string) (*models.User, error) {
	userID, err := ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		return nil, err
	}
	user, err := h.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, errors.New("User not found")
	}
	return user, nil
}

// HashPassword is shared with the admin CLI.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hashed), nil
}

func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := h.bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user := &models.User{
		Name:       req.Name,
		Email:      req.Email,
		Password:   hashed,
		Role:       req.Role,
		Class:      req.Class,
		Section:    req.Section,
		RollNumber: req.RollNumber,
	}
	if err := h.db.CreateUser(r.Context(), user); err != nil {
		h.fail(w, r, err)
		return
	}

	h.issueToken(w, r, user, http.StatusCreated)
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := h.bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.db.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.issueToken(w, r, user, http.StatusOK)
}

func (h *Handlers) issueToken(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	token, err := GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenTTL)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "sign token"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.cfg.TokenTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, models.AuthResponse{Token: token, User: *user})
}

func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": currentUser(r)})
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
