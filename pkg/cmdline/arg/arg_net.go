package arg

import (
	"strconv"
	"strings"
)

const (
	EthAddrLen  = 6
	IPv4AddrLen = 4
)

// EthAddrArg 冒号分隔的6个十六进制字节，如 00:11:22:33:44:55
type EthAddrArg struct{}

func NewEthAddrArg() *EthAddrArg {
	return &EthAddrArg{}
}

func (a *EthAddrArg) Size() int {
	return EthAddrLen
}

func (a *EthAddrArg) Serialize(sample string) (ArgData, error) {
	out := NewArgDataSized(EthAddrLen)
	parts := strings.Split(sample, ":")
	if len(parts) != EthAddrLen {
		return ArgData{}, invalid(sample)
	}
	for i, part := range parts {
		if len(part) == 0 || len(part) > 2 {
			return ArgData{}, invalid(sample)
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return ArgData{}, invalid(sample)
		}
		out.Data[i] = uint8(v)
	}
	return out, nil
}

// IPv4AddrArg 点分十进制IPv4地址，按网络字节序输出
type IPv4AddrArg struct{}

func NewIPv4AddrArg() *IPv4AddrArg {
	return &IPv4AddrArg{}
}

func (a *IPv4AddrArg) Size() int {
	return IPv4AddrLen
}

func (a *IPv4AddrArg) Serialize(sample string) (ArgData, error) {
	out := NewArgDataSized(IPv4AddrLen)
	parts := strings.Split(sample, ".")
	if len(parts) != IPv4AddrLen {
		return ArgData{}, invalid(sample)
	}
	for i, part := range parts {
		if len(part) == 0 || len(part) > 3 {
			return ArgData{}, invalid(sample)
		}
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return ArgData{}, invalid(sample)
		}
		out.Data[i] = uint8(v)
	}
	return out, nil
}
