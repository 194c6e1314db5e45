package preflight

import (
	"fmt"
	"net/url"
	"os"

	"github.com/Aman-CERP/amanmem/internal/config"
)

// CheckEmbeddings checks that the configured mode can embed. Local mode
// always can; remote mode needs a reachable-looking host, and an API key
// for the OpenAI provider.
func (c *Checker) CheckEmbeddings(cfg config.EmbeddingsConfig) CheckResult {
	result := CheckResult{
		Name:     "embeddings",
		Required: cfg.Mode == config.ModeRemote,
	}

	if cfg.Mode != config.ModeRemote {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("local (%d dimensions)", cfg.LocalDimensions)
		return result
	}

	r := cfg.Remote
	result.Details = fmt.Sprintf("%s model %s at %s", r.Provider, r.Model, r.Host)
	if u, err := url.Parse(r.Host); r.Host != "" && (err != nil || u.Scheme == "" || u.Host == "") {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("invalid host %q", r.Host)
		return result
	}
	if r.Provider == config.ProviderOpenAI && os.Getenv(r.APIKeyEnv) == "" {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not set", r.APIKeyEnv)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("remote (%s)", r.Provider)
	return result
}
