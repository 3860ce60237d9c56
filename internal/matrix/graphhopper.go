package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"fieldroute/internal/geo"
	"fieldroute/internal/obs"
	"fieldroute/internal/opt"
)

// GraphHopper builds matrices from pairwise /route requests against a
// GraphHopper server. A pair whose request fails after retries becomes an
// unusable edge instead of failing the whole matrix.
type GraphHopper struct {
	BaseURL     string
	HTTP        *http.Client
	Limiter     *rate.Limiter
	Concurrency int
	MaxAttempts int
	Profiles    map[opt.VehicleClass]string
}

func NewGraphHopper(baseURL string, rps float64, burst, concurrency int) *GraphHopper {
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &GraphHopper{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Limiter:     lim,
		Concurrency: concurrency,
		MaxAttempts: 3,
		Profiles:    map[opt.VehicleClass]string{opt.Bike: "bike", opt.Car: "car"},
	}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

type routeResponse struct {
	Paths []struct {
		Distance float64 `json:"distance"` // meters
		Time     float64 `json:"time"`     // milliseconds
	} `json:"paths"`
}

func (g *GraphHopper) Matrix(ctx context.Context, points []geo.Point, class opt.VehicleClass) (_ opt.TravelMatrix, err error) {
	defer obs.Time(ctx, "matrix.graphhopper."+class.String())(&err)

	profile, ok := g.Profiles[class]
	if !ok {
		return opt.TravelMatrix{}, fmt.Errorf("graphhopper: no profile for class %s", class)
	}
	n := len(points)
	tm := Empty(n)
	var failed atomic.Int64

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.Concurrency)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			i, j := i, j
			grp.Go(func() error {
				minutes, meters, err := g.route(gctx, points[i], points[j], profile)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					failed.Add(1)
					return nil
				}
				tm.Time[i][j] = minutes
				tm.Dist[i][j] = meters
				return nil
			})
		}
	}
	if err := grp.Wait(); err != nil {
		return opt.TravelMatrix{}, fmt.Errorf("graphhopper matrix: %w", err)
	}
	if f := failed.Load(); f > 0 {
		log.Printf("req_id=%s op=matrix.graphhopper class=%s failed_pairs=%d of=%d", obs.RequestID(ctx), class, f, n*(n-1))
	}
	return tm, nil
}

// route returns travel minutes and meters for a → b.
func (g *GraphHopper) route(ctx context.Context, a, b geo.Point, profile string) (float64, float64, error) {
	q := url.Values{}
	q.Add("point", latLng(a))
	q.Add("point", latLng(b))
	q.Set("profile", profile)
	q.Set("locale", "da")
	q.Set("calc_points", "false")
	endpoint := g.BaseURL + "/route?" + q.Encode()

	resp, err := g.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	var rr routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return 0, 0, fmt.Errorf("decode route response: %w", err)
	}
	if len(rr.Paths) == 0 {
		return 0, 0, errors.New("route response has no paths")
	}
	p := rr.Paths[0]
	if math.IsNaN(p.Time) || math.IsNaN(p.Distance) || p.Time < 0 || p.Distance < 0 {
		return 0, 0, fmt.Errorf("route response has invalid path time=%v distance=%v", p.Time, p.Distance)
	}
	return p.Time / 60000, p.Distance, nil
}

func latLng(p geo.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

func (g *GraphHopper) do(req *http.Request) (*http.Response, error) {
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries rate limiting, 5xx responses and network errors with
// exponential backoff. Every attempt waits on the rate limiter first.
func (g *GraphHopper) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := 200 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := g.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := g.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == attempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}
