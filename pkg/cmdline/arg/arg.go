package arg

import (
	"fmt"

	"github.com/haolipeng/runpmd/pkg/types"
)

// ArgDataSize 参数缓冲区容量，所有描述符都必须能放进这个大小
const ArgDataSize = 64

// WildcardToken 通配关键字，生成字段宽度的全1数据
const WildcardToken = "all"

// DefaultMask 全1掩码，"is" 修饰符使用
var DefaultMask = func() (m [ArgDataSize]byte) {
	for i := range m {
		m[i] = 0xff
	}
	return m
}()

// ArgData 定长缓冲区加逻辑长度
type ArgData struct {
	Data [ArgDataSize]byte
	Size int
}

// NewArgDataSized 创建指定逻辑长度的全0缓冲区
func NewArgDataSized(size int) ArgData {
	return ArgData{Size: size}
}

// NewArgDataFrom 从切片创建缓冲区
func NewArgDataFrom(src []byte) (ArgData, error) {
	var a ArgData
	if len(src) > ArgDataSize {
		return a, fmt.Errorf("%w: %d %d", types.ErrOutOfBounds, ArgDataSize, len(src))
	}
	copy(a.Data[:], src)
	a.Size = len(src)
	return a, nil
}

// Bytes 返回有效数据部分
func (a *ArgData) Bytes() []byte {
	return a.Data[:a.Size]
}

func (a *ArgData) checkBounds(src []byte, offset int) error {
	if offset < 0 || offset+len(src) > ArgDataSize {
		return fmt.Errorf("%w: %d %d", types.ErrOutOfBounds, ArgDataSize, offset+len(src))
	}
	return nil
}

func (a *ArgData) grow(end int) {
	if end > a.Size {
		a.Size = end
	}
}

// OrFrom 在offset处按位或写入src
func (a *ArgData) OrFrom(src []byte, offset int) error {
	if err := a.checkBounds(src, offset); err != nil {
		return err
	}
	for i, b := range src {
		a.Data[offset+i] |= b
	}
	a.grow(offset + len(src))
	return nil
}

// AndFrom 在offset处按位与写入src
func (a *ArgData) AndFrom(src []byte, offset int) error {
	if err := a.checkBounds(src, offset); err != nil {
		return err
	}
	for i, b := range src {
		a.Data[offset+i] &= b
	}
	a.grow(offset + len(src))
	return nil
}

// Arg 把一个文本token序列化成定长字节
type Arg interface {
	Serialize(sample string) (ArgData, error)
	// Size 字段宽度（字节）
	Size() int
}

func invalid(sample string) error {
	return fmt.Errorf("%w: \"%s\"", types.ErrInvalidArgument, sample)
}

// WildcardArg 支持 "all" 通配的参数，其余token交给Inner处理
type WildcardArg struct {
	Inner Arg
}

func NewWildcardArg(inner Arg) *WildcardArg {
	return &WildcardArg{Inner: inner}
}

func (w *WildcardArg) Serialize(sample string) (ArgData, error) {
	if sample == WildcardToken {
		return NewArgDataFrom(DefaultMask[:w.Inner.Size()])
	}
	return w.Inner.Serialize(sample)
}

func (w *WildcardArg) Size() int {
	return w.Inner.Size()
}

// IsWildcard 判断数据是否为通配（全1）
func IsWildcard(a ArgData) bool {
	if a.Size == 0 {
		return false
	}
	for _, b := range a.Bytes() {
		if b != 0xff {
			return false
		}
	}
	return true
}
