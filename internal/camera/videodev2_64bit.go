//go:build linux && (amd64 || arm64 || riscv64)

package camera

// Ioctl codes whose argument size depends on word size.
const (
	vidiocSFmt     = 0xc0d05605
	vidiocQuerybuf = 0xc0585609
	vidiocQbuf     = 0xc058560f
	vidiocDqbuf    = 0xc0585611
)

// v4l2_format is 208 bytes on 64-bit: the union is 8-byte aligned.
type v4l2Format struct {
	typ uint32
	_   [4]byte
	pix v4l2PixFormat
}

// v4l2_buffer is 88 bytes on 64-bit. The m union (mmap offset in its
// first word) is read through nativeEndian.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	_         [4]byte
	timestamp [16]byte
	timecode  [16]byte
	sequence  uint32
	memory    uint32
	m         [8]byte
	length    uint32
	_         [12]byte
}
