//go:build linux

package camera

// Kernel ABI for V4L2 streaming I/O, from
// include/uapi/linux/videodev2.h. Only the ioctls the capture backend
// needs are defined; buffer-struct layouts that differ by word size
// live in the per-arch files.

import (
	"encoding/binary"
	"unsafe"
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
	v4l2FieldAny            = 0
)

// Ioctls whose argument layout is word-size independent.
const (
	vidiocReqbufs   = 0xc0145608
	vidiocStreamon  = 0x40045612
	vidiocStreamoff = 0x40045613
	vidiocSParm     = 0xc0cc5616
	vidiocSCtrl     = 0xc008561c
)

// Sensor controls.
const (
	v4l2CidHflip = 0x00980914
	v4l2CidVflip = 0x00980915
)

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var (
	pixFmtXRGB32 = fourcc('B', 'X', '2', '4')
	pixFmtYUYV   = fourcc('Y', 'U', 'Y', 'V')
)

var nativeEndian binary.ByteOrder = func() binary.ByteOrder {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

// v4l2_pix_format, padded to the 200-byte union inside v4l2_format.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
	_            [152]byte
}

type v4l2Requestbuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	_            [3]uint8
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2Captureparm struct {
	capability   uint32
	capturemode  uint32
	timeperframe v4l2Fract
	extendedmode uint32
	readbuffers  uint32
	_            [176]byte
}

type v4l2Streamparm struct {
	typ     uint32
	capture v4l2Captureparm
}

type v4l2Control struct {
	id    uint32
	value int32
}
