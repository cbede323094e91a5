package store

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"hash"

	"github.com/bingooyong/ota-engine/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// 支持的摘要算法
const (
	HashSHA256     = "sha256"
	HashSHA512     = "sha512"
	HashBLAKE2b256 = "blake2b-256"
)

// NewHasher 按算法名创建摘要器
func NewHasher(hashType string) (hash.Hash, error) {
	switch hashType {
	case HashSHA256, "":
		return sha256.New(), nil
	case HashSHA512:
		return sha512.New(), nil
	case HashBLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, errors.NewWithDetails(errors.ErrUnsupportedHashType, "不支持的哈希算法", hashType)
	}
}

// SupportsHashType 判断算法是否受支持
func SupportsHashType(hashType string) bool {
	_, err := NewHasher(hashType)
	return err == nil
}

// Digest 计算数据摘要
func Digest(hashType string, data []byte) ([]byte, error) {
	h, err := NewHasher(hashType)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// EncodeHash 摘要编码为不带填充的base64url
func EncodeHash(digest []byte) string {
	return base64.RawURLEncoding.EncodeToString(digest)
}
