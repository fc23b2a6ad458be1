package snapshot

// ============================================================================
// 職責說明：
// 1. 將 dispatch 呼叫的 {params, out} 紀錄序列化為 JSON
// 2. 使用原子性寫入（temp file + rename），讀取方不會看到寫一半的檔案
// 3. 自動建立輸出路徑缺少的父目錄
// 4. 載入紀錄供 `slotdispatch status` 使用
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
)

var (
	ErrCorruptedSnapshot = errors.New("results file is corrupted")
	ErrSnapshotNotFound  = errors.New("results file not found")
)

// Manager 負責讀寫單一路徑上的結果紀錄
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager 建立指定路徑的紀錄管理器
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
	}
}

// EnsureDir creates the parent directory of the record path.
func (m *Manager) EnsureDir() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create results dir: %w", err)
	}
	return nil
}

// Write 原子性地替換紀錄檔
//
// Steps:
//  1. 建立父目錄
//  2. 將縮排後的 JSON 寫入同目錄下的臨時檔
//  3. 以 rename 覆蓋目標檔
func (m *Manager) Write(record types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.Params == nil {
		record.Params = []types.Job{}
	}
	if record.Out == nil {
		record.Out = map[types.JobID]*types.JobResult{}
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := m.EnsureDir(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp results file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp results file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp results file: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename results file: %w", err)
	}
	return nil
}

// Load 讀回紀錄
func (m *Manager) Load() (types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var record types.Record

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return record, fmt.Errorf("%w: %s", ErrSnapshotNotFound, m.path)
		}
		return record, fmt.Errorf("failed to read results: %w", err)
	}

	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if record.Out == nil {
		record.Out = map[types.JobID]*types.JobResult{}
	}
	return record, nil
}

// Exists reports whether the record file exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath returns the record path.
func (m *Manager) GetPath() string {
	return m.path
}
