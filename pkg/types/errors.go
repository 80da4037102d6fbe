package types

import (
	"errors"
	"fmt"
)

// 命令编译与下发过程中的错误类别，使用 errors.Is 判断
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOutOfBounds      = errors.New("out of bounds")
	ErrUnknownKeyword   = errors.New("unknown keyword")
	ErrHardwareRejected = errors.New("hardware rejected")
)

type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func NewPipelineError(stage string, err error) error {
	return &PipelineError{Stage: stage, Err: err}
}

// ParseError 记录解析失败的语法域和出错的token
type ParseError struct {
	Domain string // attr/pattern/actions/port...
	Token  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s: %v", e.Domain, e.Err)
	}
	return fmt.Sprintf("%s: %v: \"%s\"", e.Domain, e.Err, e.Token)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError 创建解析错误，kind 应为上面的错误类别之一
func NewParseError(domain, token string, kind error) error {
	return &ParseError{Domain: domain, Token: token, Err: kind}
}
