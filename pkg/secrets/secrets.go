// Package secrets resolves storage credentials from a secret store.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/pkg/errors"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
)

const (
	BackendNone           = "none"
	BackendEnv            = "env"
	BackendSecretsManager = "secretsmanager"
)

// Reference names a secret by scope and key within the scope.
type Reference struct {
	Backend string `json:"backend" mapstructure:"backend" toml:"backend"`
	Scope   string `json:"scope,omitempty" mapstructure:"scope" toml:"scope,omitempty"`
	Name    string `json:"name,omitempty" mapstructure:"name" toml:"name,omitempty"`
	// Region of the secrets manager, defaults to the storage region.
	Region string `json:"region,omitempty" mapstructure:"region" toml:"region,omitempty"`
}

func (r Reference) String() string {
	return r.Scope + "/" + r.Name
}

// Credentials are static object store credentials.
type Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
}

// AWS converts the credentials for use with an AWS session. Nil credentials
// select the default AWS credential chain.
func (c *Credentials) AWS() *credentials.Credentials {
	if c == nil {
		return nil
	}
	return credentials.NewStaticCredentials(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
}

func (c *Credentials) validate(ref Reference) error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.Wrapf(lakehouse.ErrSecretResolution, "secret %s is missing access_key_id or secret_access_key", ref)
	}
	return nil
}

// Resolver looks up the credentials a reference points at.
type Resolver interface {
	Resolve(ctx context.Context, ref Reference) (*Credentials, error)
}

// NewResolver returns the resolver for the reference's backend.
func NewResolver(ref Reference) (Resolver, error) {
	switch ref.Backend {
	case "", BackendNone:
		return noneResolver{}, nil
	case BackendEnv:
		return &EnvResolver{LookupEnv: os.LookupEnv}, nil
	case BackendSecretsManager:
		cfg := aws.NewConfig()
		if ref.Region != "" {
			cfg = cfg.WithRegion(ref.Region)
		}
		awsSession, err := session.NewSession(cfg)
		if err != nil {
			return nil, errors.Wrapf(lakehouse.ErrSecretResolution, "creating AWS session: %v", err)
		}
		return NewSecretsManagerResolver(secretsmanager.New(awsSession)), nil
	}
	return nil, fmt.Errorf("unknown secret backend %q, must be one of: %s, %s, %s",
		ref.Backend, BackendNone, BackendEnv, BackendSecretsManager)
}

type noneResolver struct{}

// Resolve returns nil credentials so the default credential chain is used.
func (noneResolver) Resolve(context.Context, Reference) (*Credentials, error) {
	return nil, nil
}

// EnvResolver reads <SCOPE>_<NAME>_ACCESS_KEY_ID, <SCOPE>_<NAME>_SECRET_ACCESS_KEY
// and optionally <SCOPE>_<NAME>_SESSION_TOKEN from the environment.
type EnvResolver struct {
	LookupEnv func(string) (string, bool)
}

func (r *EnvResolver) Resolve(ctx context.Context, ref Reference) (*Credentials, error) {
	prefix := envName(ref.Scope) + "_" + envName(ref.Name)
	var creds Credentials
	var ok bool
	if creds.AccessKeyID, ok = r.LookupEnv(prefix + "_ACCESS_KEY_ID"); !ok {
		return nil, errors.Wrapf(lakehouse.ErrSecretResolution, "environment variable %s_ACCESS_KEY_ID is not set", prefix)
	}
	if creds.SecretAccessKey, ok = r.LookupEnv(prefix + "_SECRET_ACCESS_KEY"); !ok {
		return nil, errors.Wrapf(lakehouse.ErrSecretResolution, "environment variable %s_SECRET_ACCESS_KEY is not set", prefix)
	}
	creds.SessionToken, _ = r.LookupEnv(prefix + "_SESSION_TOKEN")
	if err := creds.validate(ref); err != nil {
		return nil, err
	}
	return &creds, nil
}

func envName(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(s))
}

// SecretsManagerResolver reads a JSON secret with access_key_id,
// secret_access_key and session_token keys from AWS Secrets Manager. The
// secret id is <scope>/<name>.
type SecretsManagerResolver struct {
	client secretsmanageriface.SecretsManagerAPI
}

func NewSecretsManagerResolver(client secretsmanageriface.SecretsManagerAPI) *SecretsManagerResolver {
	return &SecretsManagerResolver{client: client}
}

func (r *SecretsManagerResolver) Resolve(ctx context.Context, ref Reference) (*Credentials, error) {
	out, err := r.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.String()),
	})
	if err != nil {
		return nil, errors.Wrapf(lakehouse.ErrSecretResolution, "fetching secret %s: %v", ref, err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(aws.StringValue(out.SecretString)), &creds); err != nil {
		return nil, errors.Wrapf(lakehouse.ErrSecretResolution, "decoding secret %s: %v", ref, err)
	}
	if err := creds.validate(ref); err != nil {
		return nil, err
	}
	return &creds, nil
}
