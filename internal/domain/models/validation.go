package models

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/athebyme/minimall/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В ошибках используем имена полей из JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError описывает проблему в одном поле
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError список проблем документа
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrValidation
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateStruct проверяет произвольную структуру по тегам validate
func ValidateStruct(s interface{}) error {
	verr := &ValidationError{}
	collectTagErrors(verr, validate.Struct(s))
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func collectTagErrors(verr *ValidationError, err error) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !apperrors.As(err, &fieldErrs) {
		verr.add("", "%s", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.add(trimRoot(fe.Namespace()), "failed on %q%s", fe.Tag(), paramSuffix(fe.Param()))
	}
}

func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return " (" + p + ")"
}

// Validate проверяет теги, допустимые пары типов, глубину вложенности и уникальность ID
func (c *SiteConfig) Validate() error {
	verr := &ValidationError{}
	collectTagErrors(verr, validate.Struct(c))

	categoryIDs := make(map[string]struct{})
	cardIDs := make(map[string]struct{})

	var check func(cats []Category, path string, depth int)
	check = func(cats []Category, path string, depth int) {
		for i := range cats {
			cat := &cats[i]
			p := fmt.Sprintf("%s[%d]", path, i)

			if depth > MaxCategoryDepth {
				verr.add(p, "nesting depth exceeds %d", MaxCategoryDepth)
				continue
			}
			if cat.CategoryType != "" && cat.CardType != "" && !cat.CategoryType.AllowsCardType(cat.CardType) {
				verr.add(p+".card_type", "%q cards are not allowed in %q category", cat.CardType, cat.CategoryType)
			}
			if cat.ID != "" {
				if _, dup := categoryIDs[cat.ID]; dup {
					verr.add(p+".id", "duplicate category id %q", cat.ID)
				}
				categoryIDs[cat.ID] = struct{}{}
			}

			for j := range cat.Items {
				card := &cat.Items[j]
				cp := fmt.Sprintf("%s.items[%d]", p, j)
				if card.Type != "" && card.Type != cat.CardType {
					verr.add(cp+".type", "card type %q does not match category card type %q", card.Type, cat.CardType)
				}
				if card.ID != "" {
					if _, dup := cardIDs[card.ID]; dup {
						verr.add(cp+".id", "duplicate card id %q", card.ID)
					}
					cardIDs[card.ID] = struct{}{}
				}
				if card.Type == CardLink && card.Link == "" {
					verr.add(cp+".link", "link card requires a link")
				}
				if card.Type == CardProduct && len(card.ProductIDs) == 0 && card.ExternalID == "" {
					verr.add(cp+".product_ids", "product card requires at least one product id")
				}
			}

			check(cat.Children, p+".children", depth+1)
		}
	}
	check(c.Categories, "categories", 1)

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
