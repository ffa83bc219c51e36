package util

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Md5ThenHex is a quick hasher
func Md5ThenHex(value []byte) string {
	hasher := md5.New()
	hasher.Write(value)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Fingerprint hashes the geometry, sample encoding and samples of img into
// a UUID. Images that decode to the same content share a fingerprint
// whatever file format they came from.
func Fingerprint(img *layout.Image) string {
	hasher := md5.New()
	var hdr []byte
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(img.Width))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(img.Height))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(img.Alpha))
	hasher.Write(hdr)
	for _, c := range img.Components {
		hdr = hdr[:0]
		for _, v := range []int{c.Width, c.Height, c.BitsPerSample, c.SubX, c.SubY} {
			hdr = binary.LittleEndian.AppendUint32(hdr, uint32(v))
		}
		hdr = append(hdr, flag(c.Signed), flag(c.Float))
		hasher.Write(hdr)
		for y := range c.Height {
			row := y * c.BytesPerRow
			hasher.Write(c.Data[row : row+c.Width*c.BytesPerPixel])
		}
	}
	hash := hasher.Sum(nil)
	id, err := uuid.FromBytes(hash[:16])
	if err != nil {
		return ""
	}
	return id.String()
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}
