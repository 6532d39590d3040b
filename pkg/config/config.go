package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
)

var cfg *Config
var awsSession *session.Session

var paramLookup = map[string]string{
	"ANTHROPIC_API_KEY": "/agentic/anthropic_api_key",
	"OPENROUTER_API_KEY": "/agentic/openrouter_api_key",
	"GROQ_API_KEY":       "/agentic/groq_api_key",
	"OLLAMA_HOST":        "/agentic/ollama_host",
	"AI_PROVIDER":        "/agentic/ai_provider",
	"PG_URI":             "/agentic/pg_uri",
	"REDIS_URL":          "/agentic/redis_url",
	"SEARCH_ENDPOINT":    "/agentic/search_endpoint",
	"SEARCH_API_KEY":     "/agentic/search_api_key",
	"CHART_SERVICE_URL":  "/agentic/chart_service_url",
	"SLACK_WEBHOOK_URL":  "/agentic/slack_webhook_url",
}

// Config is the single injected configuration record read by every
// component. No package reads os.Getenv directly outside of Init.
type Config struct {
	AIProvider      string // anthropic | openrouter | groq | ollama
	AnthropicAPIKey string
	OpenRouterAPIKey string
	GroqAPIKey      string
	OllamaHost      string

	PGURI     string
	RedisURL  string

	SearchEndpoint string
	SearchAPIKey   string

	ChartServiceURL string

	SlackWebhookURL string

	LLMTimeout    time.Duration
	SearchTimeout time.Duration
	ChartTimeout  time.Duration
	PlannerTimeout time.Duration
	RunTimeout    time.Duration

	ActivityBufferSize int
	MaxConcurrentRuns  int

	// CapabilityRatePerMinute sets the executor's local token bucket, which
	// takes one token per dispatched tool call and is shared by all runs
	// in the process, whether or not Redis is configured.
	CapabilityRatePerMinute int
}

func defaults() Config {
	return Config{
		LLMTimeout:         120 * time.Second,
		SearchTimeout:      30 * time.Second,
		ChartTimeout:       60 * time.Second,
		PlannerTimeout:     90 * time.Second,
		RunTimeout:         15 * time.Minute,
		ActivityBufferSize:      256,
		MaxConcurrentRuns:       50,
		CapabilityRatePerMinute: 120,
	}
}

func Get() Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return *cfg
}

// Init loads configuration either from the environment or, when
// USE_EC2_PARAMETERS is set, from AWS SSM Parameter Store.
func Init(sess *session.Session) error {
	awsSession = sess

	var paramsMap map[string]string
	if os.Getenv("USE_EC2_PARAMETERS") != "" {
		p, err := GetParamsFromSSM(paramLookup)
		if err != nil {
			return fmt.Errorf("get from ssm: %w", err)
		}
		paramsMap = p
	} else {
		paramsMap = GetParamsFromEnv(paramLookup)
	}

	c := defaults()
	c.AIProvider = firstNonEmpty(paramsMap["AI_PROVIDER"], "anthropic")
	c.AnthropicAPIKey = paramsMap["ANTHROPIC_API_KEY"]
	c.OpenRouterAPIKey = paramsMap["OPENROUTER_API_KEY"]
	c.GroqAPIKey = paramsMap["GROQ_API_KEY"]
	c.OllamaHost = paramsMap["OLLAMA_HOST"]
	c.PGURI = paramsMap["PG_URI"]
	c.RedisURL = paramsMap["REDIS_URL"]
	c.SearchEndpoint = paramsMap["SEARCH_ENDPOINT"]
	c.SearchAPIKey = paramsMap["SEARCH_API_KEY"]
	c.ChartServiceURL = paramsMap["CHART_SERVICE_URL"]
	c.SlackWebhookURL = paramsMap["SLACK_WEBHOOK_URL"]

	cfg = &c
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func GetParamsFromSSM(lookup map[string]string) (map[string]string, error) {
	svc := ssm.New(awsSession)

	params := map[string]string{}
	reverseLookup := map[string][]string{}

	names := []*string{}
	for envName, ssmName := range lookup {
		if ssmName == "" {
			params[envName] = os.Getenv(envName)
			continue
		}

		names = append(names, aws.String(ssmName))
		reverseLookup[ssmName] = append(reverseLookup[ssmName], envName)
	}
	batches := chunkSlice(names, 10)

	for _, batch := range batches {
		input := &ssm.GetParametersInput{
			Names:          batch,
			WithDecryption: aws.Bool(true),
		}
		output, err := svc.GetParameters(input)
		if err != nil {
			return params, fmt.Errorf("call get parameters: %w", err)
		}

		for _, p := range output.InvalidParameters {
			log.Printf("ssm param %s invalid", *p)
		}

		for _, p := range output.Parameters {
			for _, envName := range reverseLookup[*p.Name] {
				params[envName] = *p.Value
			}
		}
	}

	return params, nil
}

func GetParamsFromEnv(lookup map[string]string) map[string]string {
	params := map[string]string{}
	for envName := range lookup {
		params[envName] = os.Getenv(envName)
	}
	return params
}

func chunkSlice(s []*string, n int) [][]*string {
	var chunked [][]*string
	for i := 0; i < len(s); i += n {
		end := i + n
		if end > len(s) {
			end = len(s)
		}
		chunked = append(chunked, s[i:end])
	}
	return chunked
}
