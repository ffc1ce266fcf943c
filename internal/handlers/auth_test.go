package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/maynagashev/tokenvault/internal/handlers"
	"github.com/maynagashev/tokenvault/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockAuthService - мок для сервиса аутентификации.
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(username, password string) error {
	args := m.Called(username, password)
	return args.Error(0)
}

func (m *MockAuthService) Login(username, password string) (string, error) {
	args := m.Called(username, password)
	return args.String(0), args.Error(1)
}

// Вспомогательная функция для создания роутера с моком сервиса.
func setupAuthRouter(svc *MockAuthService) *chi.Mux {
	h := handlers.NewAuthHandler(svc)
	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	return r
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(svc *MockAuthService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "Успешная регистрация",
			body: `{"username":"alice","password":"password123"}`,
			mockSetup: func(svc *MockAuthService) {
				svc.On("Register", "alice", "password123").Return(nil)
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   "Владелец успешно зарегистрирован",
		},
		{
			name: "Имя уже занято",
			body: `{"username":"alice","password":"password123"}`,
			mockSetup: func(svc *MockAuthService) {
				svc.On("Register", "alice", "password123").Return(services.ErrUsernameTaken)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   "Имя пользователя уже занято",
		},
		{
			name:           "Пустое имя пользователя",
			body:           `{"username":"","password":"password123"}`,
			mockSetup:      func(svc *MockAuthService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Имя пользователя и пароль не могут быть пустыми",
		},
		{
			name:           "Невалидный JSON",
			body:           `{"username":`,
			mockSetup:      func(svc *MockAuthService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Неверный формат запроса",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAuthService)
			tt.mockSetup(svc)
			router := setupAuthRouter(svc)

			req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(svc *MockAuthService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "Успешный вход",
			body: `{"username":"alice","password":"password123"}`,
			mockSetup: func(svc *MockAuthService) {
				svc.On("Login", "alice", "password123").Return("jwt-token", nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"token":"jwt-token"`,
		},
		{
			name: "Неверные учетные данные",
			body: `{"username":"alice","password":"wrong"}`,
			mockSetup: func(svc *MockAuthService) {
				svc.On("Login", "alice", "wrong").Return("", services.ErrInvalidCredentials)
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Неверное имя пользователя или пароль",
		},
		{
			name:           "Пустой пароль",
			body:           `{"username":"alice","password":""}`,
			mockSetup:      func(svc *MockAuthService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Имя пользователя и пароль не могут быть пустыми",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAuthService)
			tt.mockSetup(svc)
			router := setupAuthRouter(svc)

			req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}
