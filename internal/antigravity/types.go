package antigravity

// GenerateRequest is the envelope posted to the backend generate endpoint.
type GenerateRequest struct {
	Project   string  `json:"project"`
	RequestID string  `json:"requestId"`
	Request   Request `json:"request"`
	Model     string  `json:"model"`
	UserAgent string  `json:"userAgent"`
}

// Request carries the conversation and generation settings.
type Request struct {
	Contents          []Content        `json:"contents"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	Tools             []Tool           `json:"tools"`
	ToolConfig        *ToolConfig      `json:"toolConfig,omitempty"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
	SessionID         string           `json:"sessionId"`
}

// Content is one turn of backend conversation state.
type Content struct {
	Role  string `json:"role"` // "user" | "model"
	Parts []Part `json:"parts"`
}

// Part is one atomic content unit within a turn. Exactly one of the variant
// fields is normally set; ThoughtSignature may additionally ride on the first
// part of a model turn.
type Part struct {
	Text             *string           `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`

	// Some backend revisions emit the signature field in snake case.
	ThoughtSignatureAlt string `json:"thought_signature,omitempty"`
}

// Signature returns the continuation signature riding on the part, under
// either field spelling.
func (p *Part) Signature() string {
	if p.ThoughtSignature != "" {
		return p.ThoughtSignature
	}
	return p.ThoughtSignatureAlt
}

// TextPart builds a plain text part.
func TextPart(s string) Part {
	return Part{Text: &s}
}

// InlineData is base64-encoded binary content with its mime type.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FunctionCall is a model-issued tool invocation.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is a caller-supplied tool result.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response FunctionOutput `json:"response"`
}

// FunctionOutput wraps the tool output string.
type FunctionOutput struct {
	Output string `json:"output"`
}

// Tool declares callable functions to the backend.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionDeclaration describes one callable function.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolConfig controls backend tool invocation behavior.
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

type FunctionCallingConfig struct {
	Mode string `json:"mode"`
}

// GenerationConfig holds sampling and output settings. Which fields are
// present depends on the target model family; see translate.BuildRequest.
type GenerationConfig struct {
	TopP               *float64        `json:"topP,omitempty"`
	TopK               *int            `json:"topK,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	CandidateCount     int             `json:"candidateCount"`
	MaxOutputTokens    int             `json:"maxOutputTokens"`
	StopSequences      []string        `json:"stopSequences"`
	ThinkingConfig     *ThinkingConfig `json:"thinkingConfig,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	ImageConfig        *ImageConfig    `json:"imageConfig,omitempty"`
}

type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

type ImageConfig struct {
	ImageSize string `json:"imageSize"`
}

// streamPayload is one decoded `data:` line of the generate stream.
type streamPayload struct {
	Response struct {
		Candidates []struct {
			Content struct {
				Parts []Part `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	} `json:"response"`
}

// ModelsResponse is the raw body of the models endpoint.
type ModelsResponse struct {
	Models map[string]struct{} `json:"models"`
}

// EventType tags a StreamEvent.
type EventType string

const (
	EventThinking  EventType = "thinking"
	EventText      EventType = "text"
	EventToolCalls EventType = "tool_calls"
)

// StreamEvent is one unit of output delivered to the caller during a request.
type StreamEvent struct {
	Type      EventType
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a completed tool invocation in the caller's wire shape.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
