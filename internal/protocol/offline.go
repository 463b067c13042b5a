package protocol

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// OfflineUUID returns the UUID an offline-mode server assigns to name:
// a version 3 UUID over md5("OfflinePlayer:" + name).
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	id, _ := uuid.FromBytes(sum[:])
	return id
}
