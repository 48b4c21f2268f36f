package service

import (
	"context"
	"fmt"
	"net/http"

	"aitest-backend/internal/config"
	"aitest-backend/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// 生成引擎的输出约定，和解析端的八字段规范一一对应。
// 即便如此约束，模型输出仍可能混入代码块、截断、字段别名，解析端全部兜住。
const basePrompt = `You are an expert QA engineer.
Generate test cases in STRICT JSON format.
You MUST apply the following testing techniques:
1. Equivalence Partitioning (等价类划分): Cover both valid and invalid equivalence classes.
2. Boundary Value Analysis (边界值分析): Test boundaries for numeric or range-based inputs.

IMPORTANT LANGUAGE REQUIREMENT:
All content (description, steps, test_input, expected_result, preconditions, test_module) MUST be in Chinese (Simplified).

STRICT OUTPUT REQUIREMENTS (MANDATORY):
- Output MUST be a single valid JSON array (no extra text before/after).
- Do NOT output Markdown, code fences, explanations, or batch headers.
- Each array item MUST be a JSON object with EXACT keys:
  id, description, test_module, preconditions, steps, test_input, expected_result, priority
- No additional keys are allowed.
- Types:
  - id: string like "TC-001"
  - description: string
  - test_module: string
  - preconditions: array of strings (can be empty [])
  - steps: array of strings (must be non-empty)
  - test_input: string
  - expected_result: string
  - priority: one of "P0","P1","P2"`

type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIGenerator(cfg config.ModelConfig) *OpenAIGenerator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (g *OpenAIGenerator) GenerateStream(ctx context.Context, req model.GenerationRequest) (ChunkStream, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Requirement},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("调用生成引擎失败: %w", err)
	}

	return &openaiChunkStream{stream: stream}, nil
}

func buildSystemPrompt(req model.GenerationRequest) string {
	prompt := fmt.Sprintf(`%s

BATCH GENERATION INSTRUCTION:
Generate exactly %d test cases.
Start the Test Case IDs from %d (e.g., TC-%03d).

Return ONLY the JSON array.`, basePrompt, req.TargetCount, req.StartID, req.StartID)

	if req.Force {
		prompt += "\n\nThis is a forced regeneration. Produce a fresh set of cases, do not reuse previous outputs verbatim."
	}
	return prompt
}

// openaiChunkStream 把增量回复包装成分片流，空增量直接跳过
type openaiChunkStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiChunkStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			// io.EOF 原样透出，由会话按正常结束处理
			return "", err
		}
		if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
			return resp.Choices[0].Delta.Content, nil
		}
	}
}

func (s *openaiChunkStream) Close() error {
	return s.stream.Close()
}
