package setup

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

const (
	attributeDecoderErrorTemplateConstant = "unable to prepare attribute decoder: %w"
	attributeDecodeErrorTemplateConstant  = "invalid attributes: %w"
)

// DecodeAttributes copies a task's `with` mapping into target, rejecting unknown keys.
func DecodeAttributes(attributes map[string]any, target any) error {
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          attributeTagNameConstant,
		Result:           target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if decoderError != nil {
		return fmt.Errorf(attributeDecoderErrorTemplateConstant, decoderError)
	}
	if attributes == nil {
		attributes = map[string]any{}
	}
	if decodeError := decoder.Decode(attributes); decodeError != nil {
		return fmt.Errorf(attributeDecodeErrorTemplateConstant, decodeError)
	}
	return nil
}
