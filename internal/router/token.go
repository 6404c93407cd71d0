package router

import (
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/common/logger"
)

var routerLog = logger.Component("router")

var (
	tokenEncoderOnce sync.Once
	tokenEncoder     *tiktoken.Tiktoken
)

// getTokenEncoder lazily initializes one shared cl100k-family encoder; the
// long-context classifier compares against a single threshold, so a
// per-model encoder table buys nothing here. Returns nil when the encoding
// files are unavailable (offline without TIKTOKEN_CACHE_DIR).
func getTokenEncoder() *tiktoken.Tiktoken {
	tokenEncoderOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel("gpt-4o")
		if err != nil {
			routerLog.Warn("tiktoken encoder unavailable, falling back to approximate token counting; "+
				"set TIKTOKEN_CACHE_DIR for offline use", zap.Error(err))
			return
		}
		tokenEncoder = enc
	})
	return tokenEncoder
}

// estimateTokens counts tokens with tiktoken, falling back to the
// byte-length approximation when approximate mode is forced or the encoder
// could not be initialized.
func estimateTokens(text string) int {
	if !config.ApproximateTokenEnabled {
		if enc := getTokenEncoder(); enc != nil {
			return len(enc.Encode(text, nil, nil))
		}
	}
	return int(float64(len(text)) * 0.38)
}
