package secret

import (
	"errors"
	"io"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/rs/zerolog/log"
)

var ErrUnknownStrategy = errors.New("unknown secret strategy")

// Secret is the join-token key file:
//
//	hmac = {
//	  "join-2024" = "a long random string"
//	}
type Secret struct {
	HMAC map[string]string `hcl:"hmac,optional"`
}

// Store receives the loaded keys
type Store interface {
	Store(keyID string, secret string) (err error)
}

type Strategy string

const (
	STRATEGY_HCL_STDIN Strategy = "hcl-stdin"
	STRATEGY_FLAG      Strategy = "hcl-flag"
)

func Load(secretPath string, implementation Strategy, store Store) (n int, err error) {
	switch implementation {
	case STRATEGY_FLAG:
		f, err := os.Open(secretPath)
		if err != nil {
			log.Err(err).Msgf("Cannot load secret")
			return 0, err
		}
		defer f.Close()
		return LoadHCL(f, store)
	case STRATEGY_HCL_STDIN:
		return LoadHCL(os.Stdin, store)
	default:
		return 0, ErrUnknownStrategy
	}
}

// LoadHCL decodes an HCL secret document and stores every HMAC key it contains
func LoadHCL(in io.Reader, store Store) (n int, err error) {
	reader := io.LimitReader(in, 10*1<<20)
	bytes, err := io.ReadAll(reader)
	if err != nil {
		return 0, err
	}

	var cfg Secret
	err = hclsimple.Decode("secret.hcl", bytes, nil, &cfg)
	if err != nil {
		var diag hcl.Diagnostics
		if errors.As(err, &diag) {
			log.Error().Errs("init", diag.Errs()).Msgf("Failed to parse secret")
		}
		return 0, err
	}

	for k, v := range cfg.HMAC {
		err := store.Store(k, v)
		if err != nil {
			log.Err(err).Msgf("Failed storing HMAC secret `%v`", k)
			continue
		}
		log.Info().Msgf("Stored HMAC secret `%v`", k)
		n++
	}

	return n, nil
}
