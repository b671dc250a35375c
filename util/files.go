package util

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
)

// MD5File computes the hex digest of a file's contents. Used to stamp
// checkpoints with the identity of the training corpus.
func MD5File(fileName string) (string, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return "", err
	}
	defer file.Close()

	md5 := md5.New()
	if _, err := io.Copy(md5, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", md5.Sum(nil)), nil
}

func Exists(fileName string) bool {
	_, err := os.Stat(fileName)
	return err == nil
}
