package autoevals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/braintrustdata/braintrust-eval-server/eval"
	"github.com/braintrustdata/braintrust-eval-server/llm"
)

// DefaultJudgeModel grades outputs when ClassifierOpts.Model is empty.
const DefaultJudgeModel = "gpt-4o"

const selectChoiceTool = "select_choice"

// ErrUnknownChoice is returned when the judge picks a choice that has no score.
var ErrUnknownChoice = errors.New("judge returned an unknown choice")

const (
	cotSuffix = "Answer the question by calling `select_choice` with your reasoning in a step-by-step matter " +
		"to be sure that your conclusion is correct. Avoid simply stating the correct answer at the outset. " +
		"Select a single choice by setting the `choice` parameter to a single choice from %s."
	plainSuffix = "Answer the question by calling `select_choice` with a single choice from %s."

	reasoningDescription = "Write out in a step by step manner your reasoning to be sure that your " +
		"conclusion is correct. Avoid simply stating the correct answer at the outset."
)

// ClassifierOpts configures an LLM judge.
type ClassifierOpts struct {
	// Name is the score name. Required.
	Name string
	// PromptTemplate is a jinja2 template; input, output and expected are
	// available as variables. Required.
	PromptTemplate string
	// ChoiceScores maps each allowed choice to its score. Required.
	ChoiceScores map[string]float64
	// Model is the judge model. Defaults to DefaultJudgeModel.
	Model string
	// UseCoT asks the judge to explain its reasoning before choosing.
	UseCoT bool
	// TracerProvider records the judge call. Defaults to the global provider.
	TracerProvider oteltrace.TracerProvider
}

type classifier struct {
	opts    ClassifierOpts
	client  openai.Client
	tracer  oteltrace.Tracer
	choices []string
}

// NewLLMClassifier returns a scorer that renders the prompt template for each
// case, forces the judge to call select_choice and maps the chosen label to
// its score. The judge's reasoning is kept in the score metadata.
func NewLLMClassifier[I, R any](client openai.Client, opts ClassifierOpts) (eval.Scorer[I, R], error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("classifier name is required")
	}
	if opts.PromptTemplate == "" {
		return nil, fmt.Errorf("classifier %q: prompt template is required", opts.Name)
	}
	if len(opts.ChoiceScores) == 0 {
		return nil, fmt.Errorf("classifier %q: choice scores are required", opts.Name)
	}
	if opts.Model == "" {
		opts.Model = DefaultJudgeModel
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	choices := make([]string, 0, len(opts.ChoiceScores))
	for c := range opts.ChoiceScores {
		choices = append(choices, c)
	}
	sort.Slice(choices, func(i, j int) bool {
		si, sj := opts.ChoiceScores[choices[i]], opts.ChoiceScores[choices[j]]
		if si != sj {
			return si > sj
		}
		return choices[i] < choices[j]
	})

	c := &classifier{
		opts:    opts,
		client:  client,
		tracer:  tp.Tracer("braintrust.autoevals"),
		choices: choices,
	}
	return eval.NewScorer(opts.Name, func(ctx context.Context, r eval.TaskResult[I, R]) (eval.Scores, error) {
		return c.score(ctx, r.Input, r.Output, r.Expected)
	}), nil
}

func (c *classifier) score(ctx context.Context, input, output, expected any) (eval.Scores, error) {
	prompt, err := c.render(input, output, expected)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	ctx, span := llm.StartSpan(ctx, c.tracer, llm.ProviderOpenAI, c.opts.Model, messages)
	args, usage, err := c.selectChoice(ctx, prompt)
	if err != nil {
		llm.EndSpan(span, nil, err)
		return nil, err
	}
	llm.EndSpan(span, &llm.Completion{Text: args, Usage: usage}, nil)

	choice := strings.TrimSpace(gjson.Get(args, "choice").String())
	score, ok := c.opts.ChoiceScores[choice]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownChoice, choice, strings.Join(c.choices, ", "))
	}

	metadata := map[string]any{"choice": choice}
	if c.opts.UseCoT {
		metadata["rationale"] = gjson.Get(args, "reasoning").String()
	}
	return eval.Scores{{Name: c.opts.Name, Score: score, Metadata: metadata}}, nil
}

func (c *classifier) render(input, output, expected any) (string, error) {
	body, err := prompts.RenderTemplate(c.opts.PromptTemplate, prompts.TemplateFormatJinja2, map[string]any{
		"input":    templateValue(input),
		"output":   templateValue(output),
		"expected": templateValue(expected),
	})
	if err != nil {
		return "", fmt.Errorf("rendering %q prompt: %w", c.opts.Name, err)
	}

	suffix := plainSuffix
	if c.opts.UseCoT {
		suffix = cotSuffix
	}
	return body + "\n\n" + fmt.Sprintf(suffix, strings.Join(c.choices, ", ")), nil
}

// selectChoice forces the judge to call the select_choice tool and returns
// the raw JSON arguments of that call.
func (c *classifier) selectChoice(ctx context.Context, prompt string) (string, llm.Usage, error) {
	properties := map[string]any{
		"choice": map[string]any{
			"type":        "string",
			"description": "The choice",
			"enum":        c.choices,
		},
	}
	required := []string{"choice"}
	if c.opts.UseCoT {
		properties["reasoning"] = map[string]any{"type": "string", "description": reasoningDescription}
		required = []string{"reasoning", "choice"}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.opts.Model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(0),
		Tools: []openai.ChatCompletionToolParam{{
			Function: openai.FunctionDefinitionParam{
				Name:        selectChoiceTool,
				Description: openai.String("Call this function to select a choice."),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		}},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: selectChoiceTool},
			},
		},
	})
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("judge %q: %w", c.opts.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.Usage{}, llm.ErrNoChoices
	}
	usage := llm.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name == selectChoiceTool {
			return call.Function.Arguments, usage, nil
		}
	}
	return "", usage, fmt.Errorf("judge %q did not call %s", c.opts.Name, selectChoiceTool)
}

// templateValue renders strings verbatim and everything else as JSON.
func templateValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
