package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrKeyNotFound 密钥不存在
var ErrKeyNotFound = errors.New("sheet key not found")

// SheetKey 密钥 -> 文档 的一条映射
type SheetKey struct {
	Key      string
	Name     string
	FilePath string
}

// KeyStore 密钥库。引擎只用它做 key -> 文档句柄 的查询，
// 管理端的增删改不在本服务范围内。
type KeyStore struct {
	db *sql.DB
}

func OpenKeyStore(path string) (*KeyStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open keystore %s", path)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sheet_keys (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			key        TEXT UNIQUE NOT NULL,
			name       TEXT NOT NULL,
			file_path  TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init sheet_keys table")
	}
	return &KeyStore{db: db}, nil
}

func (s *KeyStore) Close() error { return s.db.Close() }

// Resolve 按密钥取文档句柄
func (s *KeyStore) Resolve(key string) (*SheetKey, error) {
	row := s.db.QueryRow(`SELECT key, name, file_path FROM sheet_keys WHERE key = ?`, key)
	var sk SheetKey
	if err := row.Scan(&sk.Key, &sk.Name, &sk.FilePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "query sheet key")
	}
	return &sk, nil
}

// Create 登记一个新密钥
func (s *KeyStore) Create(key, name, filePath string) error {
	_, err := s.db.Exec(
		`INSERT INTO sheet_keys (key, name, file_path) VALUES (?, ?, ?)`,
		key, name, filePath,
	)
	return errors.Wrap(err, "insert sheet key")
}

// Count 密钥总数，启动时判断是否要种默认密钥
func (s *KeyStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sheet_keys`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count sheet keys")
	}
	return n, nil
}
