package config

import (
	"os"
	"path/filepath"
	"strconv"
)

const (
	storageBackendEnvVar = "STORAGE_BACKEND"
	storagePathEnvVar    = "STORAGE_PATH"
	storageNameEnvVar    = "STORAGE_NAME"
	redisAddrEnvVar      = "REDIS_ADDR"
	redisPasswordEnvVar  = "REDIS_PASSWORD"
	redisDBEnvVar        = "REDIS_DB"
	redisKeyPrefixEnvVar = "REDIS_KEY_PREFIX"
)

type StorageBackend string

const (
	StorageBackendFile   StorageBackend = "file"
	StorageBackendRedis  StorageBackend = "redis"
	StorageBackendMemory StorageBackend = "memory"
)

type StorageConfig interface {
	GetStorageBackend() StorageBackend
	GetStorageName() string
	GetStoragePath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
}

type Storage struct {
	source
}

var _ StorageConfig = Storage{}

func (s Storage) GetStorageBackend() StorageBackend {
	return StorageBackend(s.get(storageBackendEnvVar, string(StorageBackendFile)))
}

// GetStorageName is the name of the persisted session record.
func (s Storage) GetStorageName() string {
	return s.get(storageNameEnvVar, "auth-storage")
}

// GetStoragePath is the directory holding file-backed records.
func (s Storage) GetStoragePath() string {
	if p := s.get(storagePathEnvVar, ""); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".elearn")
	}
	return filepath.Join(dir, "elearn")
}

func (s Storage) GetRedisAddr() string {
	return s.get(redisAddrEnvVar, "localhost:6379")
}

func (s Storage) GetRedisPassword() string {
	return s.get(redisPasswordEnvVar, "")
}

func (s Storage) GetRedisDB() int {
	db, err := strconv.Atoi(s.get(redisDBEnvVar, "0"))
	if err != nil {
		return 0
	}
	return db
}

func (s Storage) GetRedisKeyPrefix() string {
	return s.get(redisKeyPrefixEnvVar, "elearn:")
}
