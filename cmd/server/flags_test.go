package main

import (
	"flag"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgramID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

// resetFlags сбрасывает состояние пакета flag между тестами.
func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
}

// clearEnv снимает переменные окружения сервера, восстанавливая их после теста.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		envServerPort, envTLSCertFile, envTLSKeyFile, envDatabaseDSN, envJWTSecret, envProgramID,
		envMinioEndpoint, envMinioUser, envMinioPassword, envMinioBucket,
	}
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestParseFlags_EnvAndDefaults(t *testing.T) {
	clearEnv(t)
	resetFlags()
	os.Args = []string{"server"}

	t.Setenv(envTLSCertFile, "/tmp/cert.pem")
	t.Setenv(envTLSKeyFile, "/tmp/key.pem")
	t.Setenv(envDatabaseDSN, "postgres://localhost/tokenvault")
	t.Setenv(envJWTSecret, "secret")
	t.Setenv(envProgramID, testProgramID)

	cfg, err := parseFlags()

	require.NoError(t, err)
	assert.Equal(t, defaultServerPort, cfg.Port)
	assert.Equal(t, "/tmp/cert.pem", cfg.CertFile)
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, uuid.MustParse(testProgramID), cfg.ProgramID)
	assert.Equal(t, defaultMinioEndpoint, cfg.MinioEndpoint)
	assert.Equal(t, defaultMinioBucket, cfg.MinioBucket)
}

func TestParseFlags_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	resetFlags()

	t.Setenv(envServerPort, "9999")
	os.Args = []string{
		"server",
		"-port=8444",
		"-cert-file=/tmp/cert.pem",
		"-key-file=/tmp/key.pem",
		"-database-dsn=postgres://localhost/tokenvault",
		"-jwt-secret=secret",
		"-program-id=" + testProgramID,
		"-minio-bucket=custom-bucket",
	}

	cfg, err := parseFlags()

	require.NoError(t, err)
	assert.Equal(t, "8444", cfg.Port, "Флаг имеет приоритет над переменной окружения")
	assert.Equal(t, "custom-bucket", cfg.MinioBucket)
}

func TestParseFlags_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "Нет сертификата",
			env:     map[string]string{},
			wantErr: "cert-file",
		},
		{
			name: "Нет секрета JWT",
			env: map[string]string{
				envTLSCertFile: "/tmp/cert.pem",
				envTLSKeyFile:  "/tmp/key.pem",
				envDatabaseDSN: "postgres://localhost/tokenvault",
			},
			wantErr: "jwt-secret",
		},
		{
			name: "Нет идентичности программы",
			env: map[string]string{
				envTLSCertFile: "/tmp/cert.pem",
				envTLSKeyFile:  "/tmp/key.pem",
				envDatabaseDSN: "postgres://localhost/tokenvault",
				envJWTSecret:   "secret",
			},
			wantErr: "program-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			resetFlags()
			os.Args = []string{"server"}
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			cfg, err := parseFlags()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFlags_InvalidProgramID(t *testing.T) {
	clearEnv(t)
	resetFlags()
	os.Args = []string{"server"}

	t.Setenv(envTLSCertFile, "/tmp/cert.pem")
	t.Setenv(envTLSKeyFile, "/tmp/key.pem")
	t.Setenv(envDatabaseDSN, "postgres://localhost/tokenvault")
	t.Setenv(envJWTSecret, "secret")
	t.Setenv(envProgramID, "not-a-uuid")

	cfg, err := parseFlags()

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "невалидная идентичность программы")
}
