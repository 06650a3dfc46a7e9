package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
)

const (
	ProbeDB   = "db"
	ProbeGRPC = "grpc"
	ProbeHTTP = "http"
)

// Probe answers nil when the backend is reachable.
type Probe interface {
	Check(ctx context.Context) error
}

type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

type Pinger interface {
	Ping(ctx context.Context) error
}

// DBProbe pings the document store.
func DBProbe(p Pinger) Probe {
	return ProbeFunc(p.Ping)
}

// GRPCHealthProbe calls the standard gRPC health service.
func GRPCHealthProbe(conn grpc.ClientConnInterface, service string) Probe {
	client := grpc_health_v1.NewHealthClient(conn)
	return ProbeFunc(func(ctx context.Context) error {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return err
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			return failure.New(failure.KindUnavailable, "health status "+resp.GetStatus().String())
		}
		return nil
	})
}

// HTTPProbe expects a 2xx from url.
func HTTPProbe(url string, client *http.Client) Probe {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return ProbeFunc(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &failure.HTTPError{Status: resp.StatusCode}
		}
		return nil
	})
}

// All succeeds only when every probe succeeds.
func All(probes ...Probe) Probe {
	return ProbeFunc(func(ctx context.Context) error {
		var errs []error
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// ParseKinds splits a comma separated probe list such as "db,http".
func ParseKinds(raw string) ([]string, error) {
	var kinds []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case ProbeDB, ProbeGRPC, ProbeHTTP:
			kinds = append(kinds, part)
		default:
			return nil, fmt.Errorf("unknown connectivity probe %q", part)
		}
	}
	return kinds, nil
}
