package studio

import (
	"fmt"
	"strings"

	"stylio-studio-server/modules/common/model"
)

// 변형 간 차별화를 위한 힌트 - index 0은 기본 구도 유지
var variationHints = []string{
	"",
	"shown from a different angle",
	"with an alternative composition",
	"from a closer vantage point",
	"with a slightly different arrangement of props",
}

// BuildGenerationPrompt - 스타일/제품 분석 결과를 합성해 이미지 생성 프롬프트 생성
// product가 nil인 경우(제품 분석 degraded) 일반적인 제품 서술로 대체
func BuildGenerationPrompt(style *model.StyleAnalysis, product *model.ProductAnalysis, opts GenerateOptions, index int) string {
	var sb strings.Builder

	sb.WriteString("Professional product photography. ")

	// 제품 서술
	if product != nil {
		sb.WriteString(fmt.Sprintf("The product is a %s", product.ProductType))
		if len(product.KeyFeatures) > 0 {
			sb.WriteString(fmt.Sprintf(" featuring %s", strings.Join(product.KeyFeatures, ", ")))
		}
		if len(product.Colors) > 0 {
			sb.WriteString(fmt.Sprintf(" in %s", strings.Join(product.Colors, ", ")))
		}
		sb.WriteString(". ")
	} else {
		sb.WriteString("The product from the reference photo, faithfully reproduced. ")
	}
	if opts.ProductDescription != "" {
		sb.WriteString(opts.ProductDescription)
		sb.WriteString(". ")
	}

	// 스타일 서술
	if style != nil {
		if style.Lighting != "" {
			sb.WriteString(fmt.Sprintf("Lighting: %s. ", style.Lighting))
		}
		if style.Background != "" {
			sb.WriteString(fmt.Sprintf("Background: %s. ", style.Background))
		}
		if len(style.ColorPalette) > 0 {
			sb.WriteString(fmt.Sprintf("Color palette: %s. ", strings.Join(style.ColorPalette, ", ")))
		}
		if style.Composition != "" {
			sb.WriteString(fmt.Sprintf("Composition: %s. ", style.Composition))
		}
		if style.Mood != "" {
			sb.WriteString(fmt.Sprintf("Mood: %s. ", style.Mood))
		}
		if len(style.Props) > 0 {
			sb.WriteString(fmt.Sprintf("Props: %s. ", strings.Join(style.Props, ", ")))
		}
		if len(style.KeyElements) > 0 {
			sb.WriteString(fmt.Sprintf("Key visual elements: %s. ", strings.Join(style.KeyElements, ", ")))
		}
	}
	if opts.StyleDescription != "" {
		sb.WriteString(opts.StyleDescription)
		sb.WriteString(". ")
	}

	// 변형 힌트 (두 번째 변형부터)
	// 변형 수가 힌트 수를 넘어도 빈 힌트(index 0)로는 되돌아가지 않음
	if index > 0 {
		hint := variationHints[(index-1)%(len(variationHints)-1)+1]
		sb.WriteString(fmt.Sprintf("The product is %s. ", hint))
	}

	sb.WriteString("High resolution, commercial quality, sharp focus on the product.")

	return sb.String()
}
