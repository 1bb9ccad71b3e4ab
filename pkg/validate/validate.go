// Package validate 提供消息请求的严格解析和校验
// HTTP 接口和 WebSocket 连接共用同一套规则（binding 标签）
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/pkg/util"
)

// DetailInvalidPayload 校验失败时返回给调用方的说明
const DetailInvalidPayload = "Invalid message payload."

// FieldError 单个字段的校验错误
type FieldError struct {
	Loc  []string `json:"loc"`  // 出错位置，如 ["body", "content"]
	Msg  string   `json:"msg"`  // 错误说明
	Type string   `json:"type"` // 错误类型
}

// Error 校验失败
type Error struct {
	Detail string       `json:"detail"`
	Errors []FieldError `json:"errors"`
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, strings.Join(fe.Loc, ".")+": "+fe.Msg)
	}
	return fmt.Sprintf("%s %s", e.Detail, strings.Join(parts, "; "))
}

var structValidator = newValidator()

// newValidator 使用与 gin 相同的 binding 标签
func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}

// jsonFieldName 字段名取 json 标签，便于客户端定位
func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

var ginOnce sync.Once

// UseJSONFieldNames 让 gin 默认校验器报告 json 字段名
// ShouldBindJSON 的错误经 FromBindError 转换后与 WebSocket 路径一致
func UseJSONFieldNames() {
	ginOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})
}

// DecodeMessageCreate 严格解析原始 JSON 载荷
// 未知字段、类型错误、多余数据都会被拒绝
func DecodeMessageCreate(data []byte) (*model.MessageCreate, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req model.MessageCreate
	if err := dec.Decode(&req); err != nil {
		return nil, fromDecodeError(err)
	}
	// 只允许一个 JSON 对象
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid(FieldError{Loc: []string{"body"}, Msg: "Unexpected data after JSON object", Type: "json_invalid"})
	}
	if err := Struct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Struct 校验已解析的请求并规范化作者名
func Struct(req *model.MessageCreate) error {
	if err := structValidator.Struct(req); err != nil {
		return FromBindError(err)
	}
	req.AuthorName = util.TrimToNil(req.AuthorName)
	return nil
}

// FromBindError 将解析/校验错误转换为统一的 *Error
// 可用于 gin ShouldBindJSON 返回的错误
func FromBindError(err error) *Error {
	var verr *Error
	if errors.As(err, &verr) {
		return verr
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]FieldError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, FieldError{
				Loc:  []string{"body", fe.Field()},
				Msg:  fieldMessage(fe),
				Type: fieldType(fe),
			})
		}
		return invalid(out...)
	}
	return fromDecodeError(err)
}

func fromDecodeError(err error) *Error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return invalid(FieldError{Loc: []string{"body"}, Msg: "Invalid JSON", Type: "json_invalid"})
	case errors.As(err, &typeErr):
		loc := []string{"body"}
		if typeErr.Field != "" {
			loc = append(loc, typeErr.Field)
		}
		return invalid(FieldError{Loc: loc, Msg: fmt.Sprintf("Input should be a valid %s", typeErr.Type), Type: "type_error"})
	}

	// encoding/json 对未知字段没有导出的错误类型
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return invalid(FieldError{Loc: []string{"body", strings.Trim(field, `"`)}, Msg: "Extra inputs are not permitted", Type: "extra_forbidden"})
	}
	return invalid(FieldError{Loc: []string{"body"}, Msg: err.Error(), Type: "value_error"})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Field required"
	case "min":
		return fmt.Sprintf("String should have at least %s character(s)", fe.Param())
	case "max":
		return fmt.Sprintf("String should have at most %s characters", fe.Param())
	case "oneof":
		opts := strings.Fields(fe.Param())
		for i, opt := range opts {
			opts[i] = "'" + opt + "'"
		}
		return "Input should be " + strings.Join(opts, " or ")
	default:
		return fmt.Sprintf("Failed on the '%s' rule", fe.Tag())
	}
}

func fieldType(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "missing"
	case "min":
		return "string_too_short"
	case "max":
		return "string_too_long"
	case "oneof":
		return "enum"
	default:
		return fe.Tag()
	}
}

func invalid(errs ...FieldError) *Error {
	return &Error{Detail: DetailInvalidPayload, Errors: errs}
}
