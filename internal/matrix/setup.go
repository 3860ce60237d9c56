package matrix

import (
	"io"
	"log"

	"fieldroute/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FromConfig builds the provider chain a deployment asks for: a static file
// when one is set, else GraphHopper, else the estimator. Network providers
// sit behind a cache, in Redis when redisURL is set. The returned Closer
// releases the cache connection.
func FromConfig(cfg config.Matrix, redisURL string) (Provider, io.Closer, error) {
	if cfg.File != "" {
		st, err := LoadStatic(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("op=matrix.setup provider=static file=%s", cfg.File)
		return st, nopCloser{}, nil
	}
	if cfg.GraphHopperURL == "" {
		log.Printf("op=matrix.setup provider=estimator")
		return NewEstimator(), nopCloser{}, nil
	}
	gh := NewGraphHopper(cfg.GraphHopperURL, cfg.RPS, cfg.Burst, cfg.Concurrency)
	if redisURL != "" {
		rc, err := NewRedisCache(redisURL, cfg.CacheTTL)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("op=matrix.setup provider=graphhopper cache=redis url=%s", cfg.GraphHopperURL)
		return &Cached{Provider: gh, Cache: rc}, rc, nil
	}
	log.Printf("op=matrix.setup provider=graphhopper cache=memory url=%s", cfg.GraphHopperURL)
	return &Cached{Provider: gh, Cache: NewMemoryCache()}, nopCloser{}, nil
}
