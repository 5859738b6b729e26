package secrets

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmGetParametersLimit is the AWS cap on names per GetParameters call.
const ssmGetParametersLimit = 10

type ssmAPI interface {
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMResolver reads SecureString parameters under Prefix from AWS Systems
// Manager Parameter Store, e.g. /printstudio/dzine/api_key. Results are cached
// for TTL to keep per-request resolution cheap.
type SSMResolver struct {
	client ssmAPI
	prefix string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	cached  Credentials
	fetched time.Time
}

func NewSSMResolver(ctx context.Context, prefix string, ttl time.Duration) (*SSMResolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSSMResolver(ssm.NewFromConfig(cfg), prefix, ttl), nil
}

func newSSMResolver(client ssmAPI, prefix string, ttl time.Duration) *SSMResolver {
	prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	return &SSMResolver{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *SSMResolver) Resolve(ctx context.Context) (Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.ttl > 0 && !r.fetched.IsZero() && now.Sub(r.fetched) < r.ttl {
		return r.cached, nil
	}

	names := make([]string, len(allKeys))
	byName := make(map[string]string, len(allKeys))
	for i, key := range allKeys {
		names[i] = path.Join(r.prefix, key)
		byName[names[i]] = key
	}

	values := make(map[string]string, len(allKeys))
	for start := 0; start < len(names); start += ssmGetParametersLimit {
		chunk := names[start:min(start+ssmGetParametersLimit, len(names))]
		out, err := r.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          chunk,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return Credentials{}, fmt.Errorf("get ssm parameters under %s: %w", r.prefix, err)
		}
		for _, p := range out.Parameters {
			name := aws.ToString(p.Name)
			if key, ok := byName[name]; ok {
				values[key] = strings.TrimSpace(aws.ToString(p.Value))
			}
		}
	}

	r.cached = fromValues(values)
	r.fetched = now
	return r.cached, nil
}
