package translate

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/qiuyan86/antigravity-gateway/internal/antigravity"
	"github.com/qiuyan86/antigravity-gateway/internal/artifact"
)

const regeneratedImagePrefix = "Attached is the image you just generated\n"

// Translator converts caller message history into backend conversation
// turns, resolving artifact references back into native parts along the way.
type Translator struct {
	store  artifact.Store
	logger *slog.Logger
}

// NewTranslator constructs a Translator.
func NewTranslator(store artifact.Store, logger *slog.Logger) *Translator {
	if store == nil {
		store = artifact.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{store: store, logger: logger}
}

// ToContents maps the message list onto backend turns, in order.
//
// Assistant history is scanned for artifact markers: a signature marker is
// fetched and re-attached to the turn's first part; image links are fetched
// and staged for injection into the *next* user turn, which is where the
// backend expects regenerated images to reappear.
func (t *Translator) ToContents(ctx context.Context, messages []Message, model string) ([]antigravity.Content, error) {
	var contents []antigravity.Content

	// Regenerated images staged by a prior assistant message, as base64.
	var pendingImages []string

	// Function names by call id, so tool responses resolve in O(1).
	callNames := make(map[string]string)

	sigCapable := antigravity.ArtifactCapable(model)

	for _, msg := range messages {
		switch msg.Role {
		case "user", "system":
			text, images := extractContent(msg.Content)

			if len(pendingImages) > 0 && msg.Role == "user" {
				regenerated := make([]antigravity.InlineData, 0, len(pendingImages))
				for _, b64 := range pendingImages {
					regenerated = append(regenerated, antigravity.InlineData{
						MimeType: "image/jpeg",
						Data:     b64,
					})
				}
				text = regeneratedImagePrefix + text
				images = append(regenerated, images...)
				pendingImages = nil
			}

			parts := []antigravity.Part{antigravity.TextPart(text)}
			for i := range images {
				parts = append(parts, antigravity.Part{InlineData: &images[i]})
			}
			contents = append(contents, antigravity.Content{Role: "user", Parts: parts})

		case "assistant":
			text, _ := extractContent(msg.Content)

			var signature string
			if sigCapable {
				if sigURL, stripped, ok := artifact.ExtractSignatureURL(text); ok {
					text = stripped
					raw, err := t.store.Fetch(ctx, sigURL)
					if err != nil {
						t.logger.Error("signature fetch failed", "url", sigURL, "error", err)
					} else if len(raw) > 0 {
						signature = string(raw)
					}
				}
			}

			for _, imgURL := range artifact.ExtractImageURLs(text) {
				raw, err := t.store.Fetch(ctx, imgURL)
				if err != nil || len(raw) == 0 {
					t.logger.Error("image fetch failed", "url", imgURL, "error", err)
					continue
				}
				pendingImages = append(pendingImages, base64.StdEncoding.EncodeToString(raw))
			}

			hasText := strings.TrimSpace(text) != ""
			hasCalls := len(msg.ToolCalls) > 0

			var parts []antigravity.Part
			if hasText {
				parts = append(parts, antigravity.TextPart(text))
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				parts = append(parts, antigravity.Part{
					FunctionCall: &antigravity.FunctionCall{
						ID:   tc.ID,
						Name: tc.Function.Name,
						Args: map[string]any{"query": tc.Function.Arguments},
					},
				})
			}
			// A signature must stay attached to its own turn, so it blocks
			// the tool-call merge below.
			if signature != "" && len(parts) > 0 {
				parts[0].ThoughtSignature = signature
			}

			if last := lastContent(contents); last != nil &&
				last.Role == "model" && onlyFunctionCalls(last.Parts) &&
				hasCalls && !hasText && signature == "" {
				last.Parts = append(last.Parts, parts...)
			} else {
				contents = append(contents, antigravity.Content{Role: "model", Parts: parts})
			}

		case "tool":
			text, _ := extractContent(msg.Content)
			part := antigravity.Part{
				FunctionResponse: &antigravity.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     callNames[msg.ToolCallID],
					Response: antigravity.FunctionOutput{Output: text},
				},
			}

			if last := lastContent(contents); last != nil &&
				last.Role == "user" && onlyFunctionResponses(last.Parts) {
				last.Parts = append(last.Parts, part)
			} else {
				contents = append(contents, antigravity.Content{Role: "user", Parts: []antigravity.Part{part}})
			}
		}
	}

	return contents, nil
}

func lastContent(contents []antigravity.Content) *antigravity.Content {
	if len(contents) == 0 {
		return nil
	}
	return &contents[len(contents)-1]
}

func onlyFunctionCalls(parts []antigravity.Part) bool {
	if len(parts) == 0 {
		return false
	}
	for i := range parts {
		if parts[i].FunctionCall == nil {
			return false
		}
	}
	return true
}

func onlyFunctionResponses(parts []antigravity.Part) bool {
	if len(parts) == 0 {
		return false
	}
	for i := range parts {
		if parts[i].FunctionResponse == nil {
			return false
		}
	}
	return true
}
