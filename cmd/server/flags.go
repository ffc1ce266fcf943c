package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
)

const (
	// Порт по умолчанию для HTTPS (непривилегированный).
	defaultServerPort = "8443"

	// Переменные окружения.
	envServerPort  = "SERVER_PORT"
	envTLSCertFile = "TLS_CERT_FILE"
	envTLSKeyFile  = "TLS_KEY_FILE"
	envDatabaseDSN = "DATABASE_DSN"
	envJWTSecret   = "JWT_SECRET" //nolint:gosec // Ложное срабатывание, это имя переменной окружения
	envProgramID   = "VAULT_PROGRAM_ID"

	// Переменные окружения для MinIO (значения по умолчанию из docker-compose).
	envMinioEndpoint     = "MINIO_ENDPOINT"
	envMinioUser         = "MINIO_USER"
	envMinioPassword     = "MINIO_PASSWORD"
	envMinioBucket       = "MINIO_BUCKET"
	defaultMinioEndpoint = "localhost:9000"
	defaultMinioUser     = "minioadmin"
	defaultMinioPassword = "minioadmin"
	defaultMinioBucket   = "tokenvault-statements"
)

// config хранит конфигурацию сервера.
type config struct {
	Port        string
	CertFile    string
	KeyFile     string
	DatabaseDSN string
	JWTSecret   string
	// Идентичность программы: ключевой материал деривации производных
	// идентичностей хранилищ. Задается конфигурацией, а не константой кода.
	ProgramID     uuid.UUID
	MinioEndpoint string
	MinioUser     string
	MinioPassword string
	MinioBucket   string
}

// parseFlags разбирает флаги и переменные окружения, возвращает config или ошибку.
func parseFlags() (*config, error) {
	cfg := &config{}
	var programID string

	// Определяем флаги
	flag.StringVar(&cfg.Port, "port", "",
		fmt.Sprintf("Порт для запуска HTTPS-сервера (env: %s, default: %s)", envServerPort, defaultServerPort))
	flag.StringVar(&cfg.CertFile, "cert-file", "",
		fmt.Sprintf("Путь к файлу TLS-сертификата (env: %s)", envTLSCertFile))
	flag.StringVar(&cfg.KeyFile, "key-file", "",
		fmt.Sprintf("Путь к файлу TLS-ключа (env: %s)", envTLSKeyFile))
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", "",
		fmt.Sprintf("Строка подключения к базе данных (env: %s)", envDatabaseDSN))
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "",
		fmt.Sprintf("Секрет подписи JWT токенов (env: %s)", envJWTSecret))
	flag.StringVar(&programID, "program-id", "",
		fmt.Sprintf("UUID идентичности программы для деривации (env: %s)", envProgramID))
	flag.StringVar(&cfg.MinioEndpoint, "minio-endpoint", "",
		fmt.Sprintf("Адрес MinIO (env: %s, default: %s)", envMinioEndpoint, defaultMinioEndpoint))
	flag.StringVar(&cfg.MinioUser, "minio-user", "",
		fmt.Sprintf("Логин MinIO (env: %s, default: %s)", envMinioUser, defaultMinioUser))
	flag.StringVar(&cfg.MinioPassword, "minio-password", "",
		fmt.Sprintf("Пароль MinIO (env: %s, default: %s)", envMinioPassword, defaultMinioPassword))
	flag.StringVar(&cfg.MinioBucket, "minio-bucket", "",
		fmt.Sprintf("Бакет MinIO для выписок (env: %s, default: %s)", envMinioBucket, defaultMinioBucket))

	// Парсим флаги
	flag.Parse()

	// Применяем переменные окружения, если флаги не заданы
	if cfg.Port == "" {
		if value, ok := os.LookupEnv(envServerPort); ok {
			cfg.Port = value
		} else {
			cfg.Port = defaultServerPort
		}
	}
	if cfg.CertFile == "" {
		if value, ok := os.LookupEnv(envTLSCertFile); ok {
			cfg.CertFile = value
		}
	}
	if cfg.KeyFile == "" {
		if value, ok := os.LookupEnv(envTLSKeyFile); ok {
			cfg.KeyFile = value
		}
	}
	if cfg.DatabaseDSN == "" {
		if value, ok := os.LookupEnv(envDatabaseDSN); ok {
			cfg.DatabaseDSN = value
		}
	}
	if cfg.JWTSecret == "" {
		if value, ok := os.LookupEnv(envJWTSecret); ok {
			cfg.JWTSecret = value
		}
	}
	if programID == "" {
		if value, ok := os.LookupEnv(envProgramID); ok {
			programID = value
		}
	}
	if cfg.MinioEndpoint == "" {
		cfg.MinioEndpoint = getEnv(envMinioEndpoint, defaultMinioEndpoint)
	}
	if cfg.MinioUser == "" {
		cfg.MinioUser = getEnv(envMinioUser, defaultMinioUser)
	}
	if cfg.MinioPassword == "" {
		cfg.MinioPassword = getEnv(envMinioPassword, defaultMinioPassword)
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = getEnv(envMinioBucket, defaultMinioBucket)
	}

	// Проверяем обязательные параметры
	if cfg.CertFile == "" {
		return nil, errors.New("не указан путь к файлу сертификата (--cert-file или " + envTLSCertFile + ")")
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("не указан путь к файлу ключа (--key-file или " + envTLSKeyFile + ")")
	}
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("не указана строка подключения к БД (--database-dsn или " + envDatabaseDSN + ")")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("не указан секрет подписи JWT (--jwt-secret или " + envJWTSecret + ")")
	}
	if programID == "" {
		return nil, errors.New("не указана идентичность программы (--program-id или " + envProgramID + ")")
	}

	parsed, err := uuid.Parse(programID)
	if err != nil {
		return nil, fmt.Errorf("невалидная идентичность программы '%s': %w", programID, err)
	}
	cfg.ProgramID = parsed

	return cfg, nil
}
