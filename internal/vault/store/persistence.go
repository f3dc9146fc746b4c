package store

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vault-gateway/internal/constants"
)

// 保險庫目錄下的檔案佈局（目錄 0700，檔案 0600）
const (
	masterKeyFile = "master.key"
	secretsFile   = "secrets.json"
	backupsDir    = "backups"
)

// storeFile secrets.json 的磁碟格式
type storeFile struct {
	Version int                      `json:"version"`
	SavedAt time.Time                `json:"saved_at"`
	Secrets map[string]*SecretRecord `json:"secrets"`
}

// persister 保險庫檔案持久化
type persister struct {
	dir string
}

func newPersister(dir string) *persister {
	return &persister{dir: dir}
}

// ensureDirs 建立保險庫目錄樹（僅擁有者可讀寫）
func (p *persister) ensureDirs() error {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return fmt.Errorf("%w: failed to create vault dir: %v", ErrPersistence, err)
	}
	if err := os.MkdirAll(filepath.Join(p.dir, backupsDir), 0o700); err != nil {
		return fmt.Errorf("%w: failed to create backups dir: %v", ErrPersistence, err)
	}
	return nil
}

// loadOrCreateMasterKey 載入主密鑰，不存在時生成並持久化
func (p *persister) loadOrCreateMasterKey() ([]byte, error) {
	path := filepath.Join(p.dir, masterKeyFile)

	data, err := os.ReadFile(path) // #nosec G304 -- path is built from the configured vault dir
	if err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if decodeErr != nil || len(key) != constants.MasterKeyLength {
			return nil, fmt.Errorf("%w: master key file is corrupt", ErrPersistence)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: failed to read master key: %v", ErrPersistence, err)
	}

	// 首次啟動：生成 256-bit 隨機主密鑰
	key := make([]byte, constants.MasterKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err := p.saveMasterKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// saveMasterKey 持久化主密鑰（0600）
func (p *persister) saveMasterKey(key []byte) error {
	path := filepath.Join(p.dir, masterKeyFile)
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := writeFileAtomic(path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("%w: failed to write master key: %v", ErrPersistence, err)
	}
	return nil
}

// saveSecrets 序列化整個記錄表到單一檔案
func (p *persister) saveSecrets(secrets map[string]*SecretRecord) error {
	doc := storeFile{
		Version: constants.SecretsFileVersion,
		SavedAt: time.Now(),
		Secrets: secrets,
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal secrets: %v", ErrPersistence, err)
	}

	path := filepath.Join(p.dir, secretsFile)
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: failed to write secrets file: %v", ErrPersistence, err)
	}
	return nil
}

// loadSecrets 從磁碟載入記錄表
// 檔案不存在或損壞時回傳空表與（可記錄的）錯誤，永不作為硬性啟動失敗傳播
func (p *persister) loadSecrets() (map[string]*SecretRecord, error) {
	empty := make(map[string]*SecretRecord)
	path := filepath.Join(p.dir, secretsFile)

	data, err := os.ReadFile(path) // #nosec G304 -- path is built from the configured vault dir
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return empty, fmt.Errorf("%w: failed to read secrets file: %v", ErrPersistence, err)
	}

	var doc storeFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return empty, fmt.Errorf("%w: secrets file is corrupt: %v", ErrPersistence, err)
	}
	if doc.Secrets == nil {
		return empty, nil
	}
	return doc.Secrets, nil
}

// backupSecrets 在輪換前建立帶時間戳的備份
func (p *persister) backupSecrets(secrets map[string]*SecretRecord) (string, error) {
	doc := storeFile{
		Version: constants.SecretsFileVersion,
		SavedAt: time.Now(),
		Secrets: secrets,
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal backup: %v", ErrPersistence, err)
	}

	name := fmt.Sprintf("secrets-%s.json", time.Now().Format("20060102-150405"))
	path := filepath.Join(p.dir, backupsDir, name)
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return "", fmt.Errorf("%w: failed to write backup: %v", ErrPersistence, err)
	}
	return path, nil
}

// writeFileAtomic 先寫臨時檔再改名，避免寫到一半的檔案被讀到
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
