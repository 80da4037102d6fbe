package arg

import (
	"encoding/binary"
	"strconv"
	"strings"
	"unsafe"
)

// ByteOrder 整数序列化的字节序
type ByteOrder int

const (
	HostOrder ByteOrder = iota
	LittleEndian
	BigEndian
)

// Integer 支持的整数类型
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// IntArg 整数参数，宽度和符号由类型参数决定
type IntArg[T Integer] struct {
	order ByteOrder
}

func NewIntArg[T Integer]() *IntArg[T] {
	return &IntArg[T]{order: HostOrder}
}

// NewIntArgWithOrder 指定字节序，协议字段（如以太类型）使用BigEndian
func NewIntArgWithOrder[T Integer](order ByteOrder) *IntArg[T] {
	return &IntArg[T]{order: order}
}

func (a *IntArg[T]) Size() int {
	var v T
	return int(unsafe.Sizeof(v))
}

func (a *IntArg[T]) signed() bool {
	var v T
	return v-1 < 0
}

// Strton 解析整数：0x/0X前缀为十六进制，0开头为八进制，其余为十进制
func (a *IntArg[T]) Strton(src string) (T, error) {
	digits, base := src, 10
	if strings.HasPrefix(src, "0x") || strings.HasPrefix(src, "0X") {
		digits, base = src[2:], 16
	} else if len(src) > 1 && src[0] == '0' {
		digits, base = src[1:], 8
	}
	if digits == "" || digits[0] == '+' {
		return 0, invalid(src)
	}

	bits := a.Size() * 8
	if a.signed() {
		v, err := strconv.ParseInt(digits, base, bits)
		if err != nil {
			return 0, invalid(src)
		}
		return T(v), nil
	}
	v, err := strconv.ParseUint(digits, base, bits)
	if err != nil {
		return 0, invalid(src)
	}
	return T(v), nil
}

func (a *IntArg[T]) order2binary() binary.ByteOrder {
	switch a.order {
	case LittleEndian:
		return binary.LittleEndian
	case BigEndian:
		return binary.BigEndian
	default:
		return binary.NativeEndian
	}
}

func (a *IntArg[T]) Serialize(sample string) (ArgData, error) {
	val, err := a.Strton(sample)
	if err != nil {
		return ArgData{}, err
	}

	out := NewArgDataSized(a.Size())
	bo := a.order2binary()
	u := uint64(val)
	switch a.Size() {
	case 1:
		out.Data[0] = uint8(u)
	case 2:
		bo.PutUint16(out.Data[:2], uint16(u))
	case 4:
		bo.PutUint32(out.Data[:4], uint32(u))
	case 8:
		bo.PutUint64(out.Data[:8], u)
	}
	return out, nil
}
