package antigravity

import "strings"

// BaseImageModel is the image model that supports explicit output sizes. The
// catalog advertises virtual -2k/-4k variants of it.
const BaseImageModel = "gemini-3-pro-image"

// ArtifactCapable reports whether a model participates in the artifact
// side-channel: continuation signatures are uploaded and replayed only for
// image models and models explicitly opted in with the -sig suffix.
func ArtifactCapable(model string) bool {
	return strings.Contains(model, "image") || strings.HasSuffix(model, "-sig")
}

// ThinkingEnabled reports whether reasoning output should be requested for
// the given caller-visible model name.
func ThinkingEnabled(model string) bool {
	return strings.HasSuffix(model, "-thinking") ||
		model == "gemini-2.5-pro" ||
		strings.HasPrefix(model, "gemini-3-pro-") ||
		model == "rev19-uic3-1p" ||
		model == "gpt-oss-120b-medium"
}

// EffectiveModel maps a caller-visible model name to the identifier the
// backend accepts: the -thinking and -sig markers are caller-side only, and
// the size-variant image models collapse to the base image model.
func EffectiveModel(model string) string {
	actual := model
	if strings.HasSuffix(actual, "-thinking") && !strings.Contains(actual, "opus") {
		actual = strings.TrimSuffix(actual, "-thinking")
	} else if strings.HasSuffix(actual, "-sig") {
		actual = strings.TrimSuffix(actual, "-sig")
	}
	if strings.HasPrefix(actual, BaseImageModel+"-") {
		actual = BaseImageModel
	}
	return actual
}

// ImageSize returns the requested output size for size-variant image model
// names, or "" when the name carries no size suffix.
func ImageSize(model string) string {
	switch {
	case strings.HasSuffix(model, "-2k"):
		return "2k"
	case strings.HasSuffix(model, "-4k"):
		return "4k"
	}
	return ""
}
