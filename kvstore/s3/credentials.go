package s3

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"pkt.systems/pslog"
)

// credentialCache lazily resolves the credential provider for the
// configured profile and reuses it across requests. A provider that
// cannot be built is memoized as anonymous mode: requests are issued
// unsigned. Any failed retrieval, first or later, that is not caused by
// the context ending also switches the cache to anonymous mode for good;
// retrieval errors are not told apart by kind, and none is returned to
// the caller.
type credentialCache struct {
	profile string
	logger  pslog.Logger

	mu       sync.Mutex
	loaded   bool
	provider aws.CredentialsProvider
}

func newCredentialCache(profile string, override aws.CredentialsProvider, logger pslog.Logger) *credentialCache {
	c := &credentialCache{profile: profile, logger: logger}
	if override != nil {
		c.provider = override
		c.loaded = true
	}
	return c
}

// Get returns the signing credentials. ok is false in anonymous mode.
// The mutex guards only provider population; retrieval runs unlocked so
// a slow refresh does not serialize concurrent tasks.
func (c *credentialCache) Get(ctx context.Context) (aws.Credentials, bool, error) {
	provider := c.load(ctx)
	if provider == nil {
		return aws.Credentials{}, false, nil
	}
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return aws.Credentials{}, false, ctx.Err()
		}
		c.logger.Warn("s3.credentials.unavailable", "profile", c.profile, "error", err)
		c.disable()
		return aws.Credentials{}, false, nil
	}
	return creds, true, nil
}

func (c *credentialCache) load(ctx context.Context) aws.CredentialsProvider {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.provider
	}
	c.loaded = true
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithSharedConfigProfile(c.profile))
	if err != nil {
		c.logger.Warn("s3.credentials.load_failed", "profile", c.profile, "error", err)
		return nil
	}
	c.provider = cfg.Credentials
	return c.provider
}

func (c *credentialCache) disable() {
	c.mu.Lock()
	c.provider = nil
	c.mu.Unlock()
}
