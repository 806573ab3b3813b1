package ai

import "streetviewai/pkg/domain"

const (
	descriptionPrompt = `Describe this street view image in detail. Include:
- The type of location (urban, suburban, rural)
- Main buildings or structures visible
- Street characteristics (width, surface, markings)
- Visible signage or text
- Notable objects or features
- Weather and lighting conditions
- Overall atmosphere`

	objectDetectionPrompt = `List all distinct objects and elements visible in this street view image.
Categorize them as: buildings, vehicles, street furniture, signs, vegetation, infrastructure.
For each category, provide specific items you can identify.`

	ocrPrompt = `Extract all visible text from this image. Include:
- Business names and signs
- Street signs and traffic signs
- Building numbers and addresses
- Any other readable text
List each piece of text separately.`
)

// PromptFor returns the fixed template for kind. Custom analyses carry
// the caller's prompt and have no template.
func PromptFor(kind domain.AnalysisKind) (string, bool) {
	switch kind {
	case domain.KindDescription:
		return descriptionPrompt, true
	case domain.KindObjectDetection:
		return objectDetectionPrompt, true
	case domain.KindOCR:
		return ocrPrompt, true
	default:
		return "", false
	}
}
