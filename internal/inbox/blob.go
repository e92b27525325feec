package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// bodyFilename はメッセージ本文のファイル名。
const bodyFilename = "body"

// FileBlobStore はメッセージ本文をファイルシステムに保存するストア。
// 本文は <baseDir>/<recipientID>/<messageID>/body に配置される。
type FileBlobStore struct {
	// baseDir は本文ファイルを配置するルートディレクトリ。
	baseDir string
}

// NewFileBlobStore は新しいファイルベースの本文ストアを生成する。
func NewFileBlobStore(baseDir string) *FileBlobStore {
	return &FileBlobStore{baseDir: baseDir}
}

// Put は(messageID, recipientID)をキーとする位置に本文を書き込む。
// 既存ファイル（途中で失敗した部分書き込みを含む）は切り詰めてから
// 書き直されるため、リトライ時の再実行は安全である。
func (s *FileBlobStore) Put(_ context.Context, messageID, recipientID string, content []byte) error {
	dir := filepath.Join(s.baseDir, recipientID, messageID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("本文ディレクトリの作成に失敗: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bodyFilename), content, 0o644); err != nil {
		return fmt.Errorf("本文の書き込みに失敗: %w", err)
	}
	return nil
}

// Get は保存済みの本文を読み出す。
// 存在しない場合はos.ErrNotExistをラップしたエラーを返す。
func (s *FileBlobStore) Get(_ context.Context, messageID, recipientID string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(s.baseDir, recipientID, messageID, bodyFilename))
	if err != nil {
		return nil, fmt.Errorf("本文の読み出しに失敗: %w", err)
	}
	return content, nil
}
