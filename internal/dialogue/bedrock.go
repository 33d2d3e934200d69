package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ppiankov/roomguard/internal/escalation"
)

// converser is the slice of the Bedrock runtime client the generator uses.
type converser interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock generates lines with the Bedrock Converse API.
type Bedrock struct {
	client  converser
	model   string
	persona Persona
	infer   *types.InferenceConfiguration
}

// NewBedrock creates a Bedrock generator from the default AWS credential
// chain. A key in cfg.APIKey of the form "ACCESS_KEY:SECRET" overrides it.
func NewBedrock(ctx context.Context, cfg Config) (*Bedrock, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("bedrock generator requires a model id")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if id, secret, ok := strings.Cut(cfg.APIKey, ":"); ok {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func newBedrock(client converser, cfg Config) *Bedrock {
	return &Bedrock{
		client:  client,
		model:   cfg.Model,
		persona: cfg.Persona,
		infer: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(cfg.MaxTokens)),
			Temperature: aws.Float32(float32(cfg.Temperature)),
		},
	}
}

func (b *Bedrock) Generate(ctx context.Context, pc escalation.PromptContext) (string, error) {
	out, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: SystemPrompt(b.persona, pc)},
		},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: Situation(pc)}},
		}},
		InferenceConfig: b.infer,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", ErrEmptyResponse
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	return finish(text.String(), pc)
}
