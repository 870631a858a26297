package vision

// Request shape we send upstream (OpenAI-style, multimodal content parts).
type providerChatRequest struct {
	Model          string            `json:"model"`
	Messages       []providerMessage `json:"messages"`
	Temperature    float32           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat   `json:"response_format,omitempty"`
}

type providerMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type providerChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

type providerErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// mealPayload is the JSON document the model is instructed to return in the
// assistant message content.
type mealPayload struct {
	Items []mealPayloadItem `json:"items"`
	Total *mealPayloadMacro `json:"total,omitempty"`
	Notes string            `json:"notes,omitempty"`
}

type mealPayloadItem struct {
	Name       string   `json:"name"`
	Quantity   float64  `json:"quantity,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Calories   *float64 `json:"calories,omitempty"`
	ProteinG   *float64 `json:"protein_g,omitempty"`
	CarbsG     *float64 `json:"carbs_g,omitempty"`
	FatG       *float64 `json:"fat_g,omitempty"`
	FiberG     *float64 `json:"fiber_g,omitempty"`
}

type mealPayloadMacro struct {
	Calories float64  `json:"calories"`
	ProteinG float64  `json:"protein_g"`
	CarbsG   float64  `json:"carbs_g"`
	FatG     float64  `json:"fat_g"`
	FiberG   *float64 `json:"fiber_g,omitempty"`
}
