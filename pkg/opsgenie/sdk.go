package opsgenie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opsgenie/opsgenie-go-sdk-v2/client"
	"github.com/sirupsen/logrus"
)

const defaultTimeout = 5 * time.Second

// apiHost reduces a configured URL to the host form the SDK expects; the SDK
// always speaks https.
func apiHost(baseURL string) client.ApiUrl {
	u := strings.TrimSpace(baseURL)
	if u == "" {
		u = DefaultBaseURL
	}
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return client.ApiUrl(strings.TrimSuffix(u, "/"))
}

// noRetry hands failures straight back; the bus redelivers the event.
func noRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}

func sdkLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return l
}

// classify maps SDK api errors onto the package sentinels.
func classify(err error) error {
	var apiErr *client.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", apiErr.Message, ErrNotFound)
	}
	return fmt.Errorf("status %d: %s", apiErr.StatusCode, apiErr.Message)
}
