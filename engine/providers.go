package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/openai"
)

// InitProviders creates every configured model provider. Provider fields go
// through template rendering first, so tokens can come from environment
// variables like {{OPENAI_API_KEY}}.
func InitProviders(ctx context.Context, providerConfigs []model.Provider, templateCtx map[string]string) (map[string]llms.Model, error) {
	if len(providerConfigs) == 0 {
		return nil, fmt.Errorf("no providers to initialize")
	}

	logger.Logger.Info("Initializing providers", "count", len(providerConfigs))
	providers := make(map[string]llms.Model)

	for i, p := range providerConfigs {
		p.Name = model.RenderTemplate(p.Name, templateCtx)
		p.Token = model.RenderTemplate(p.Token, templateCtx)
		p.Secret = model.RenderTemplate(p.Secret, templateCtx)
		p.Model = model.RenderTemplate(p.Model, templateCtx)
		p.BaseURL = model.RenderTemplate(p.BaseURL, templateCtx)
		p.Version = model.RenderTemplate(p.Version, templateCtx)
		p.ProjectID = model.RenderTemplate(p.ProjectID, templateCtx)
		p.Location = model.RenderTemplate(p.Location, templateCtx)
		p.CredentialsPath = model.RenderTemplate(p.CredentialsPath, templateCtx)
		p.AuthType = model.RenderTemplate(p.AuthType, templateCtx)

		logger.Logger.Debug("Initializing provider",
			"index", i+1,
			"total", len(providerConfigs),
			"name", p.Name,
			"type", p.Type,
			"model", p.Model)

		if p.Name == "" {
			return nil, fmt.Errorf("provider at index %d has empty name", i)
		}
		if _, exists := providers[p.Name]; exists {
			return nil, fmt.Errorf("duplicate provider name: %s", p.Name)
		}

		llmModel, err := CreateProvider(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider '%s': %w", p.Name, err)
		}

		providers[p.Name] = llmModel
		logger.Logger.Info("Provider initialized", "name", p.Name)
	}

	return providers, nil
}

func CreateProvider(ctx context.Context, p model.Provider) (llms.Model, error) {
	// Vertex authenticates via credentials file, Azure may use Entra ID;
	// everything else needs an explicit token.
	isEntraIDAuth := p.Type == model.ProviderAzure && strings.EqualFold(p.AuthType, "entra_id")
	if p.Type != model.ProviderVertex && !isEntraIDAuth && p.Token == "" {
		return nil, fmt.Errorf("provider token is empty")
	}
	if p.Model == "" {
		return nil, fmt.Errorf("provider model is empty")
	}

	var retryAfterClient *RetryAfterHTTPClient
	if p.Retry.RetryOn429 {
		retryAfterClient = NewRetryAfterHTTPClient(nil)
	}

	var llmModel llms.Model
	var err error

	switch p.Type {
	case model.ProviderGroq:
		opts := []openai.Option{
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
		}
		if retryAfterClient != nil {
			opts = append(opts, openai.WithHTTPClient(retryAfterClient))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		} else {
			opts = append(opts, openai.WithBaseURL("https://api.groq.com/openai/v1"))
		}
		llmModel, err = openai.New(opts...)

	case model.ProviderGoogle:
		googleOpts := []googleai.Option{
			googleai.WithAPIKey(p.Token),
			googleai.WithDefaultModel(p.Model),
		}
		if retryAfterClient != nil {
			googleOpts = append(googleOpts, googleai.WithHTTPClient(retryAfterClient.wrapped))
		}
		llmModel, err = googleai.New(ctx, googleOpts...)

	case model.ProviderVertex:
		llmModel, err = vertex.New(
			ctx,
			googleai.WithDefaultModel(p.Model),
			googleai.WithCloudProject(p.ProjectID),
			googleai.WithCloudLocation(p.Location),
			googleai.WithCredentialsFile(p.CredentialsPath),
		)

	case model.ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithModel(p.Model),
			anthropic.WithToken(p.Token),
		}
		if retryAfterClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(retryAfterClient))
		}
		llmModel, err = anthropic.New(opts...)

	case model.ProviderAmazonAnthropic:
		awsCfg, cfgErr := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(p.Location),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				p.Token,
				p.Secret,
				"",
			)),
		)
		if cfgErr != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", cfgErr)
		}
		brc := bedrockruntime.NewFromConfig(awsCfg)
		llmModel, err = bedrock.New(
			bedrock.WithClient(brc),
			bedrock.WithModel(p.Model),
		)

	case model.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
		}
		if retryAfterClient != nil {
			opts = append(opts, openai.WithHTTPClient(retryAfterClient))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		llmModel, err = openai.New(opts...)

	case model.ProviderAzure:
		if p.Version == "" {
			return nil, fmt.Errorf("azure provider requires version")
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("azure provider requires base URL")
		}

		opts := []openai.Option{
			openai.WithModel(p.Model),
			openai.WithAPIVersion(p.Version),
			openai.WithBaseURL(p.BaseURL),
		}
		if retryAfterClient != nil {
			opts = append(opts, openai.WithHTTPClient(retryAfterClient))
		}

		if isEntraIDAuth {
			cred, credErr := azidentity.NewDefaultAzureCredential(nil)
			if credErr != nil {
				return nil, fmt.Errorf("failed to create Azure credential: %w", credErr)
			}
			token, tokenErr := cred.GetToken(ctx, policy.TokenRequestOptions{
				Scopes: []string{"https://cognitiveservices.azure.com/.default"},
			})
			if tokenErr != nil {
				return nil, fmt.Errorf("failed to get Azure token: %w", tokenErr)
			}
			// Entra ID tokens go as Bearer in the Authorization header
			opts = append(opts, openai.WithAPIType(openai.APITypeAzureAD))
			opts = append(opts, openai.WithToken(token.Token))
		} else {
			if p.Token == "" {
				return nil, fmt.Errorf("azure provider requires token when using api_key authentication")
			}
			opts = append(opts, openai.WithAPIType(openai.APITypeAzure))
			opts = append(opts, openai.WithToken(p.Token))
		}
		llmModel, err = openai.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}

	if err != nil {
		return nil, err
	}
	if llmModel == nil {
		return nil, fmt.Errorf("provider created but model is nil")
	}

	if NeedsLLMWrapper(p.RateLimits, p.Retry) {
		logger.Logger.Info("Wrapping provider with rate limiter/retry handler",
			"name", p.Name,
			"tpm", p.RateLimits.TPM,
			"rpm", p.RateLimits.RPM,
			"retry_on_429", p.Retry.RetryOn429)
		rateLimited := NewRateLimitedLLM(llmModel, p.RateLimits, p.Retry, p.Model)
		if retryAfterClient != nil {
			rateLimited.SetRetryAfterProvider(retryAfterClient)
		}
		llmModel = rateLimited
	}

	return llmModel, nil
}
