package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/maynagashev/tokenvault/internal/models"
	"github.com/maynagashev/tokenvault/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// AuthService определяет интерфейс для сервиса аутентификации владельцев.
type AuthService interface {
	Register(username, password string) error
	Login(username, password string) (string, error) // Возвращает JWT токен или ошибку
}

// Время жизни токена.
const tokenTTL = time.Hour * 24

// Структура для пользовательских данных в JWT (claims).
type jwtClaims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// Убедимся, что authService удовлетворяет интерфейсу AuthService.
var _ AuthService = (*authService)(nil)

type authService struct {
	ownerRepo repository.OwnerRepository
	jwtSecret string // Секрет подписи задается конфигурацией сервера
}

// NewAuthService создает новый экземпляр сервиса аутентификации.
func NewAuthService(ownerRepo repository.OwnerRepository, jwtSecret string) AuthService {
	return &authService{ownerRepo: ownerRepo, jwtSecret: jwtSecret}
}

// Register регистрирует нового владельца.
func (s *authService) Register(username, password string) error {
	ctx := context.Background() // Используем фоновый контекст для операций сервиса

	// Хешируем пароль
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[AuthService] Ошибка хеширования пароля для '%s': %v", username, err)
		return errors.New("внутренняя ошибка сервера при хешировании пароля")
	}

	owner := &models.Owner{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hashedPassword),
	}

	// Создаем владельца через репозиторий
	if err = s.ownerRepo.CreateOwner(ctx, owner); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			log.Printf("[AuthService] Попытка регистрации с занятым именем: %s", username)
			return ErrUsernameTaken // Возвращаем ошибку слоя сервиса
		}
		log.Printf("[AuthService] Непредвиденная ошибка репозитория при регистрации '%s': %v", username, err)
		return errors.New("внутренняя ошибка сервера при создании владельца")
	}

	log.Printf("[AuthService] Владелец '%s' успешно зарегистрирован", username)
	return nil
}

// Login аутентифицирует владельца и возвращает JWT токен.
func (s *authService) Login(username, password string) (string, error) {
	ctx := context.Background()

	// Получаем владельца по имени
	owner, err := s.ownerRepo.GetOwnerByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrOwnerNotFound) {
			log.Printf("[AuthService] Попытка входа несуществующего владельца: %s", username)
			return "", ErrInvalidCredentials // Общая ошибка для несуществующего владельца и неверного пароля
		}
		log.Printf("[AuthService] Ошибка репозитория при поиске '%s': %v", username, err)
		return "", errors.New("внутренняя ошибка сервера при поиске владельца")
	}

	// Сравниваем предоставленный пароль с хешем из базы данных
	err = bcrypt.CompareHashAndPassword([]byte(owner.PasswordHash), []byte(password))
	if err != nil {
		// Ошибка сравнения означает неверный пароль (или другую проблему bcrypt)
		log.Printf("[AuthService] Неверный пароль для владельца: %s", username)
		return "", ErrInvalidCredentials // Общая ошибка
	}

	// Генерируем JWT токен
	token, err := s.generateJWT(owner.ID)
	if err != nil {
		log.Printf("[AuthService] Ошибка генерации JWT для '%s': %v", username, err)
		return "", errors.New("внутренняя ошибка сервера при генерации токена")
	}

	log.Printf("[AuthService] Владелец '%s' успешно аутентифицирован", username)
	return token, nil
}

// generateJWT создает и подписывает JWT токен для владельца.
func (s *authService) generateJWT(ownerID uuid.UUID) (string, error) {
	// Создаем claims (полезную нагрузку)
	claims := jwtClaims{
		OwnerID: ownerID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)), // Время истечения
			IssuedAt:  jwt.NewNumericDate(time.Now()),               // Время выдачи
			NotBefore: jwt.NewNumericDate(time.Now()),               // Время, с которого токен валиден
			Issuer:    "tokenvault-server",                          // Источник токена
		},
	}

	// Создаем токен с нашими claims и методом подписи HS256
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Подписываем токен секретным ключом
	signedToken, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}

	return signedToken, nil
}
