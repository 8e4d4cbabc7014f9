package utils

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

func encodeSum(v uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return hex.EncodeToString(buf)
}

// Checksum returns the xxhash64 of data as 16 hex chars.
func Checksum(data []byte) string {
	return encodeSum(xxhash.Sum64(data))
}

func ChecksumReader(r io.Reader) (string, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return encodeSum(h.Sum64()), nil
}

func ChecksumFile(name string) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ChecksumReader(f)
}
