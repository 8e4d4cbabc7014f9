package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SafeSaveIOToFile writes r to dst through a temp file in the same directory,
// so a failed transfer never leaves a truncated dst behind.
func SafeSaveIOToFile(dst string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("create directory failed, err:%w", err)
	}
	// 先写临时文件, 完成后再rename覆盖目标文件
	dstTmp := dst + "." + uuid.NewString() + ".temp"
	f, err := os.OpenFile(dstTmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("create tmp file failed, err:%w", err)
	}
	defer os.Remove(dstTmp)
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("copy stream to tmp file failed, err:%w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close tmp file failed, err:%w", err)
	}
	if err := os.Rename(dstTmp, dst); err != nil {
		return 0, fmt.Errorf("rename tmp file to target failed, err:%w", err)
	}
	return n, nil
}
