package stoplog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Writer 以追加方式记录策略停止原因，每次一行。
// 进程被强制终止时，这个文件是事后排查停机原因的第一手资料。
type Writer struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New 创建停止原因记录器，文件在首次写入时创建。
func New(path string) *Writer {
	return &Writer{
		path: path,
		now:  time.Now,
	}
}

// Record 追加一条停止原因记录。
func (w *Writer) Record(reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("stoplog: 创建目录失败: %w", err)
		}
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("stoplog: 打开停止日志失败: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", w.now().Format(timeLayout), reason)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("stoplog: 写入停止日志失败: %w", err)
	}

	return nil
}
