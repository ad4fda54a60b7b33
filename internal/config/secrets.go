package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
)

// Secret references look like ${PROVIDER:ref}. Anything else is a plain value.
var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

// ResolveValue resolves a secret reference in a config value. Plain values
// pass through untouched.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}
	return resolveSecret(matches[1], matches[2])
}

func resolveSecret(provider, ref string) (string, error) {
	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return lookupVault(ref)
	case "AWS_SM":
		return lookupAWSSecret(ref)
	}
	return "", fmt.Errorf("unknown secrets provider: %s", provider)
}

// lookupVault reads one key of a Vault secret. The reference has the form
// path#key, e.g. secret/data/schemalign#db_password; address and token come
// from the standard VAULT_ADDR and VAULT_TOKEN variables.
func lookupVault(ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("invalid Vault reference %q: want path#key", ref)
	}

	client, err := vaultClient()
	if err != nil {
		return "", err
	}

	secret, err := client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("reading Vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("reading Vault secret %s: not found", path)
	}

	val, ok := kv2Data(secret.Data)[key]
	if !ok {
		return "", fmt.Errorf("reading Vault secret %s: no key %q", path, key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("reading Vault secret %s: key %q is not a string", path, key)
	}
	return str, nil
}

func vaultClient() (*vault.Client, error) {
	addr := os.Getenv("VAULT_ADDR")
	token := os.Getenv("VAULT_TOKEN")
	if addr == "" || token == "" {
		return nil, fmt.Errorf("VAULT_ADDR and VAULT_TOKEN must be set to resolve Vault secrets")
	}

	cfg := vault.DefaultConfig()
	cfg.Address = addr
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)
	return client, nil
}

// kv2Data unwraps the extra "data" level the KV v2 engine adds; KV v1
// responses come back unchanged.
func kv2Data(data map[string]interface{}) map[string]interface{} {
	if inner, ok := data["data"].(map[string]interface{}); ok {
		return inner
	}
	return data
}

// lookupAWSSecret reads a string secret from AWS Secrets Manager. The
// reference is the secret name; credentials and region come from the default
// AWS config chain.
func lookupAWSSecret(name string) (string, error) {
	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	out, err := secretsmanager.NewFromConfig(awsCfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("reading AWS secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("reading AWS secret %s: no string value (binary secrets are not supported)", name)
	}
	return *out.SecretString, nil
}
