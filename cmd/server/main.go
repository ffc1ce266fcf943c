package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Драйвер PostgreSQL
	"github.com/maynagashev/tokenvault/internal/authority"
	"github.com/maynagashev/tokenvault/internal/handlers"
	"github.com/maynagashev/tokenvault/internal/ledger"
	appmiddleware "github.com/maynagashev/tokenvault/internal/middleware"
	"github.com/maynagashev/tokenvault/internal/repository"
	"github.com/maynagashev/tokenvault/internal/services"
	"github.com/maynagashev/tokenvault/internal/storage"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 30 * time.Second
	minioUseSSL         = false // Для локальной разработки
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db           *sqlx.DB
	authHandler  *handlers.AuthHandler
	vaultHandler *handlers.VaultHandler
	assetHandler *handlers.AssetHandler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка выполнения сервера: %v", err)
		os.Exit(1) // Выход с кодом ошибки
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run() error {
	log.Println("Запуск сервера TokenVault...")

	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	// Инициализация зависимостей
	deps, err := setupDependencies(cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	// Отложенное закрытие соединения с БД
	defer func() {
		if deps.db != nil {
			if closeErr := deps.db.Close(); closeErr != nil {
				log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
			}
		}
	}()

	// Настройка роутера
	r := setupRouter(cfg.JWTSecret, deps.authHandler, deps.vaultHandler, deps.assetHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	log.Printf("Запуск HTTPS-сервера на порту %s...", cfg.Port)
	log.Printf("Используется сертификат: %s", cfg.CertFile)
	log.Printf("Используется ключ: %s", cfg.KeyFile)

	// Запускаем сервер с TLS
	if err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка запуска HTTPS-сервера: %w", err)
	}
	return nil // Успешное завершение run()
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(cfg *config) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. Подключение к БД
	deps.db, err = repository.NewPostgresDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}
	log.Println("Соединение с БД успешно установлено.")

	// 2. Инициализация клиента MinIO для архива выписок
	minioCfg := storage.MinioConfig{
		Endpoint:        cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioUser,
		SecretAccessKey: cfg.MinioPassword,
		UseSSL:          minioUseSSL,
		BucketName:      cfg.MinioBucket,
	}
	fileStorage, err := storage.NewMinioClient(minioCfg)
	if err != nil {
		// Закрываем соединение с БД перед выходом
		if dbCloseErr := deps.db.Close(); dbCloseErr != nil {
			log.Printf("Ошибка закрытия соединения с БД при ошибке MinIO: %v", dbCloseErr)
		}
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	// 3. Деривация производных идентичностей хранилищ
	deriver := authority.NewDeriver(cfg.ProgramID)

	// 4. Создание репозиториев и адаптера реестра
	ownerRepo := repository.NewPostgresOwnerRepository(deps.db)
	assetRepo := repository.NewPostgresAssetRepository(deps.db)
	vaultRepo := repository.NewPostgresVaultRepository()
	opRepo := repository.NewPostgresOperationRepository()
	tokenLedger := ledger.NewPostgresLedger(deriver)

	// 5. Создание сервисов
	authService := services.NewAuthService(ownerRepo, cfg.JWTSecret)
	vaultService := services.NewVaultService(deps.db, vaultRepo, assetRepo, opRepo, tokenLedger, deriver, fileStorage)
	assetService := services.NewAssetService(deps.db, assetRepo, tokenLedger)

	// 6. Создание обработчиков
	deps.authHandler = handlers.NewAuthHandler(authService)
	deps.vaultHandler = handlers.NewVaultHandler(vaultService)
	deps.assetHandler = handlers.NewAssetHandler(assetService)

	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(
	jwtSecret string,
	authHandler *handlers.AuthHandler,
	vaultHandler *handlers.VaultHandler,
	assetHandler *handlers.AssetHandler,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Маршруты --- //
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})

	// Определяем базовый маршрут /api
	r.Route("/api", func(r chi.Router) {
		// Публичные маршруты (регистрация, вход)
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		// Приватные маршруты (требуют аутентификации)
		r.Group(func(r chi.Router) {
			// Применяем middleware аутентификации ко всей группе
			r.Use(appmiddleware.Authenticator(jwtSecret))

			// Маршруты для работы с активами и счетами
			r.Route("/assets", func(r chi.Router) {
				r.Post("/", assetHandler.Create)
				r.Post("/{assetID}/fund", assetHandler.Fund)
			})

			// Маршруты для работы с хранилищами
			r.Route("/vaults", func(r chi.Router) {
				r.Post("/", vaultHandler.Initialize)
				r.Route("/{assetID}", func(r chi.Router) {
					r.Get("/", vaultHandler.Get)
					r.Post("/deposit", vaultHandler.Deposit)
					r.Post("/withdraw", vaultHandler.Withdraw)
					r.Get("/operations", vaultHandler.ListOperations)
					r.Post("/statement", vaultHandler.ExportStatement)
				})
			})
		})
	})
	return r
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	log.Printf("Переменная окружения '%s' не установлена, используется значение по умолчанию: '%s'", key, fallback)
	return fallback
}
