package nostd

import (
	"fmt"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zhtranslations "github.com/go-playground/validator/v10/translations/zh"
)

// CustomValidator echo请求参数校验器，校验失败时返回中文错误信息
type CustomValidator struct {
	Validator *validator.Validate
	trans     ut.Translator
}

// TransInit 初始化中文翻译器
func (v *CustomValidator) TransInit() error {
	zhLocale := zh.New()
	uni := ut.New(zhLocale, zhLocale)

	trans, ok := uni.GetTranslator("zh")
	if !ok {
		return fmt.Errorf("failed to get zh translator")
	}
	v.trans = trans
	return zhtranslations.RegisterDefaultTranslations(v.Validator, trans)
}

// Validate 实现echo.Validator接口
func (v *CustomValidator) Validate(i interface{}) error {
	err := v.Validator.Struct(i)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !asValidationErrors(err, &errs) {
		return err
	}

	messages := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		messages = append(messages, fieldErr.Translate(v.trans))
	}
	return fmt.Errorf("%s", joinMessages(messages))
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

func joinMessages(messages []string) string {
	out := ""
	for i, m := range messages {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}
