//go:build linux && (386 || arm)

package camera

// Ioctl codes whose argument size depends on word size.
const (
	vidiocSFmt     = 0xc0cc5605
	vidiocQuerybuf = 0xc0445609
	vidiocQbuf     = 0xc044560f
	vidiocDqbuf    = 0xc0445611
)

// v4l2_format is 204 bytes on 32-bit.
type v4l2Format struct {
	typ uint32
	pix v4l2PixFormat
}

// v4l2_buffer is 68 bytes on 32-bit.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp [8]byte
	timecode  [16]byte
	sequence  uint32
	memory    uint32
	m         [4]byte
	length    uint32
	_         [8]byte
}
